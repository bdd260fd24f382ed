package catalog

import (
	"errors"
	"fmt"

	"github.com/opensource-clinical/riskcalc/internal/domain"
	"github.com/opensource-clinical/riskcalc/internal/model"
)

// Build constructs the variables, rules, models and specialties of bundle in
// dependency order. Every problem found is reported; objects depending on an
// invalid definition are skipped rather than reported again.
func Build(bundle *domain.CatalogBundle) (*Snapshot, error) {
	b := &builder{
		snap: &Snapshot{
			bundle:      bundle,
			groups:      make(map[string]model.VariableGroup),
			variables:   make(map[string]model.Variable),
			rules:       make(map[string]*model.Rule),
			models:      make(map[string]*model.RiskModel),
			specialties: make(map[string]*Specialty),
		},
		failed: make(map[string]bool),
	}

	b.groups(bundle.VariableGroups)
	b.procedures(bundle.Procedures)
	b.variables(bundle.Variables)
	b.rules(bundle.Rules)
	b.models(bundle.Models)
	b.specialties(bundle.Specialties)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return b.snap, nil
}

type builder struct {
	snap   *Snapshot
	errs   []error
	failed map[string]bool // "variable:key", "rule:name", "model:name"
}

func (b *builder) fail(kind, name string, err error) {
	b.failed[kind+":"+name] = true
	b.errs = append(b.errs, fmt.Errorf("%s %q: %w", kind, name, err))
}

func (b *builder) groups(defs []domain.VariableGroupDef) {
	for _, def := range defs {
		if _, dup := b.snap.groups[def.Name]; dup || def.Name == "" {
			b.fail("group", def.Name, ErrDuplicate)
			continue
		}
		b.snap.groups[def.Name] = model.VariableGroup{Name: def.Name, DisplayOrder: def.DisplayOrder}
	}
}

func (b *builder) procedures(defs []domain.ProcedureDef) {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		p := model.Procedure{
			CPTCode:          def.CPTCode,
			RVU:              def.RVU,
			ShortDescription: def.ShortDescription,
			LongDescription:  def.LongDescription,
			Complexity:       def.Complexity,
			Eligible:         def.Eligible,
		}
		if err := p.Validate(); err != nil {
			b.fail("procedure", def.CPTCode, err)
			continue
		}
		if seen[p.CPTCode] {
			b.fail("procedure", def.CPTCode, ErrDuplicate)
			continue
		}
		seen[p.CPTCode] = true
		b.snap.procedures = append(b.snap.procedures, p)
	}
}

func (b *builder) variables(defs []domain.VariableDef) {
	for _, def := range defs {
		if _, dup := b.snap.variables[def.Key]; dup {
			b.fail("variable", def.Key, ErrDuplicate)
			continue
		}
		v, err := b.variable(def)
		if err != nil {
			b.fail("variable", def.Key, err)
			continue
		}
		b.snap.variables[def.Key] = v
		b.snap.variableOrder = append(b.snap.variableOrder, def.Key)
	}
}

func (b *builder) variable(def domain.VariableDef) (model.Variable, error) {
	group, ok := b.snap.groups[def.Group]
	if !ok && def.Group != "" {
		return nil, fmt.Errorf("%w %q", ErrUnknownGroup, def.Group)
	}
	info := model.VariableInfo{
		Key:         def.Key,
		DisplayName: def.DisplayName,
		Group:       group,
		HelpText:    def.HelpText,
	}

	kind, ok := model.ParseKind(def.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", def.Kind)
	}

	switch kind {
	case model.KindNumerical:
		rng, err := rangeOf(def.Range)
		if err != nil {
			return nil, err
		}
		return model.NewNumericalVariable(info, rng, def.Units)

	case model.KindBoolean:
		return model.NewBooleanVariable(info)

	case model.KindMultiSelect:
		dt, err := model.ParseDisplayType(def.DisplayType)
		if err != nil {
			return nil, err
		}
		return model.NewMultiSelectVariable(info, def.Options, dt)

	case model.KindProcedure:
		v, err := model.NewProcedureVariable(info)
		if err != nil {
			return nil, err
		}
		return v.WithProcedures(b.snap.procedures)

	case model.KindDiscreteNumerical:
		rng, err := rangeOf(def.Range)
		if err != nil {
			return nil, err
		}
		cats := make([]model.Category, 0, len(def.Categories))
		for _, c := range def.Categories {
			r, err := rangeOf(&c.Range)
			if err != nil {
				return nil, fmt.Errorf("category %q: %w", c.Label, err)
			}
			cats = append(cats, model.Category{Range: r, Label: c.Label})
		}
		return model.NewDiscreteNumericalVariable(info, rng, def.Units, cats)

	default:
		return nil, fmt.Errorf("unknown kind %q", def.Kind)
	}
}

func rangeOf(def *domain.RangeDef) (model.NumericalRange, error) {
	if def == nil {
		return model.NumericalRange{}, fmt.Errorf("range is required")
	}
	return model.NewNumericalRange(def.Lower, def.LowerInclusive, def.Upper, def.UpperInclusive)
}

// lookupVariable resolves key, reporting whether the caller should skip the
// definition silently because the variable itself failed to build.
func (b *builder) lookupVariable(key string) (model.Variable, bool, error) {
	if v, ok := b.snap.variables[key]; ok {
		return v, false, nil
	}
	if b.failed["variable:"+key] {
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("%w %q", ErrUnknownVariable, key)
}

func (b *builder) rules(defs []domain.RuleDef) {
next:
	for _, def := range defs {
		if _, dup := b.snap.rules[def.Name]; dup {
			b.fail("rule", def.Name, ErrDuplicate)
			continue
		}

		matchers := make([]model.ValueMatcher, 0, len(def.Matchers))
		for _, md := range def.Matchers {
			v, skip, err := b.lookupVariable(md.Variable)
			if skip {
				b.failed["rule:"+def.Name] = true
				continue next
			}
			if err != nil {
				b.fail("rule", def.Name, err)
				continue next
			}

			m, err := model.NewValueMatcher(v, md.Condition, md.IsEnabled())
			if err != nil {
				b.fail("rule", def.Name, err)
				continue next
			}
			matchers = append(matchers, m)
		}

		r, err := model.NewRule(def.Name, matchers, def.Summand, def.BypassEnabled)
		if err != nil {
			b.fail("rule", def.Name, err)
			continue
		}
		b.snap.rules[def.Name] = r
	}
}

func (b *builder) models(defs []domain.ModelDef) {
next:
	for _, def := range defs {
		if _, dup := b.snap.models[def.Name]; dup {
			b.fail("model", def.Name, ErrDuplicate)
			continue
		}

		terms := make([]model.Term, 0, len(def.Terms))
		for i, td := range def.Terms {
			term, skip, err := b.term(td)
			if skip {
				b.failed["model:"+def.Name] = true
				continue next
			}
			if err != nil {
				b.fail("model", def.Name, fmt.Errorf("term %d: %w", i, err))
				continue next
			}
			terms = append(terms, term)
		}

		m, err := model.NewRiskModel(def.Name, terms...)
		if err != nil {
			b.fail("model", def.Name, err)
			continue
		}
		b.snap.models[def.Name] = m
	}
}

func (b *builder) term(def domain.TermDef) (model.Term, bool, error) {
	switch def.Type {
	case domain.TermNumerical:
		v, skip, err := b.lookupVariable(def.Variable)
		if skip || err != nil {
			return nil, skip, err
		}
		nv, ok := v.(*model.NumericalVariable)
		if !ok {
			return nil, false, fmt.Errorf("variable %q is %s, not numerical", def.Variable, v.Kind())
		}
		return model.NewNumericalTerm(def.Coefficient, nv), false, nil

	case domain.TermRule:
		r, ok := b.snap.rules[def.Rule]
		if !ok {
			if b.failed["rule:"+def.Rule] {
				return nil, true, nil
			}
			return nil, false, fmt.Errorf("%w %q", ErrUnknownRule, def.Rule)
		}
		return model.NewDerivedTerm(def.Coefficient, r), false, nil

	default:
		return nil, false, fmt.Errorf("unknown term type %q", def.Type)
	}
}

func (b *builder) specialties(defs []domain.SpecialtyDef) {
	for _, def := range defs {
		if _, dup := b.snap.specialties[def.Name]; dup || def.Name == "" {
			b.fail("specialty", def.Name, ErrDuplicate)
			continue
		}

		s := &Specialty{Name: def.Name, VistaID: def.VistaID}
		ok := true
		for _, name := range def.Models {
			m, found := b.snap.models[name]
			if !found {
				if !b.failed["model:"+name] {
					b.fail("specialty", def.Name, fmt.Errorf("%w %q", ErrUnknownModel, name))
				}
				ok = false
				break
			}
			s.Models = append(s.Models, m)
		}
		if ok {
			b.snap.specialties[def.Name] = s
		}
	}
}
