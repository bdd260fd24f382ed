package catalog

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/model"
)

var (
	ErrDuplicate        = errors.New("duplicate definition")
	ErrUnknownGroup     = errors.New("unknown variable group")
	ErrUnknownVariable  = errors.New("unknown variable")
	ErrUnknownRule      = errors.New("unknown rule")
	ErrUnknownModel     = errors.New("unknown model")
	ErrUnknownSpecialty = errors.New("unknown specialty")
	ErrNoCatalog        = errors.New("no catalog loaded")
)

// Specialty is a surgical specialty and the risk models calculated for it.
type Specialty struct {
	Name    string
	VistaID int
	Models  []*model.RiskModel
}

// RequiredVariables returns the union of the models' variables ordered by
// group display order, then display name.
func (s *Specialty) RequiredVariables() []model.Variable {
	var vars []model.Variable
	for _, m := range s.Models {
		for _, v := range m.RequiredVariables() {
			if !slices.Contains(vars, v) {
				vars = append(vars, v)
			}
		}
	}
	slices.SortFunc(vars, compareVariables)
	return vars
}

// VariableGroup is a group together with the variables of a specialty in it.
type VariableGroup struct {
	Group     model.VariableGroup
	Variables []model.Variable
}

// GroupedVariables partitions RequiredVariables by group.
func (s *Specialty) GroupedVariables() []VariableGroup {
	var groups []VariableGroup
	for _, v := range s.RequiredVariables() {
		if n := len(groups); n > 0 && groups[n-1].Group == v.Group() {
			groups[n-1].Variables = append(groups[n-1].Variables, v)
			continue
		}
		groups = append(groups, VariableGroup{Group: v.Group(), Variables: []model.Variable{v}})
	}
	return groups
}

func compareVariables(a, b model.Variable) int {
	if c := cmp.Compare(a.Group().DisplayOrder, b.Group().DisplayOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Group().Name, b.Group().Name); c != 0 {
		return c
	}
	return cmp.Compare(a.DisplayName(), b.DisplayName())
}

// Snapshot is an immutable, fully built catalog.
type Snapshot struct {
	bundle        *domain.CatalogBundle
	groups        map[string]model.VariableGroup
	variables     map[string]model.Variable
	variableOrder []string
	procedures    []model.Procedure
	rules         map[string]*model.Rule
	models        map[string]*model.RiskModel
	specialties   map[string]*Specialty
}

// Bundle returns the definitions the snapshot was built from.
func (s *Snapshot) Bundle() *domain.CatalogBundle {
	return s.bundle
}

// Specialty returns the named specialty.
func (s *Snapshot) Specialty(name string) (*Specialty, error) {
	sp, ok := s.specialties[name]
	if !ok {
		return nil, ErrUnknownSpecialty
	}
	return sp, nil
}

// Specialties returns all specialties sorted by name.
func (s *Snapshot) Specialties() []*Specialty {
	out := make([]*Specialty, 0, len(s.specialties))
	for _, sp := range s.specialties {
		out = append(out, sp)
	}
	slices.SortFunc(out, func(a, b *Specialty) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Model returns the named risk model.
func (s *Snapshot) Model(name string) (*model.RiskModel, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, ErrUnknownModel
	}
	return m, nil
}

// Variable returns the variable with key.
func (s *Snapshot) Variable(key string) (model.Variable, error) {
	v, ok := s.variables[key]
	if !ok {
		return nil, ErrUnknownVariable
	}
	return v, nil
}

// Variables returns every variable in definition order.
func (s *Snapshot) Variables() []model.Variable {
	out := make([]model.Variable, len(s.variableOrder))
	for i, key := range s.variableOrder {
		out[i] = s.variables[key]
	}
	return out
}

// Procedures returns the procedure catalog in definition order.
func (s *Snapshot) Procedures() []model.Procedure {
	return slices.Clone(s.procedures)
}

// SearchProcedures returns eligible procedures whose CPT code or description
// contains query, ignoring case, up to limit results. An empty query matches
// every eligible procedure.
func (s *Snapshot) SearchProcedures(query string, limit int) []model.Procedure {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []model.Procedure
	for _, p := range s.procedures {
		if !p.Eligible {
			continue
		}
		if q == "" ||
			strings.Contains(strings.ToLower(p.CPTCode), q) ||
			strings.Contains(strings.ToLower(p.ShortDescription), q) ||
			strings.Contains(strings.ToLower(p.LongDescription), q) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// Stats summarises the snapshot's contents.
type Stats struct {
	Version     int `json:"version"`
	Variables   int `json:"variables"`
	Procedures  int `json:"procedures"`
	Rules       int `json:"rules"`
	Models      int `json:"models"`
	Specialties int `json:"specialties"`
}

// Stats returns counts of the snapshot's contents.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Version:     s.bundle.Version,
		Variables:   len(s.variables),
		Procedures:  len(s.procedures),
		Rules:       len(s.rules),
		Models:      len(s.models),
		Specialties: len(s.specialties),
	}
}
