package model

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

const (
	CPTCodeLength  = 5
	DescriptionMax = 256
	ComplexityMax  = 40
)

// Procedure is a surgical procedure identified by its CPT code.
type Procedure struct {
	CPTCode          string
	RVU              float32
	ShortDescription string
	LongDescription  string
	Complexity       string
	Eligible         bool
}

// Validate checks the procedure's fields.
func (p Procedure) Validate() error {
	if utf8.RuneCountInString(p.CPTCode) != CPTCodeLength {
		return &InvalidNameError{Field: "CPT code", Value: p.CPTCode, Reason: "must be exactly 5 characters"}
	}
	if err := checkLength("short description", p.ShortDescription, DescriptionMax); err != nil {
		return err
	}
	if err := checkLength("long description", p.LongDescription, DescriptionMax); err != nil {
		return err
	}
	if err := checkLength("complexity", p.Complexity, ComplexityMax); err != nil {
		return err
	}
	if isNaN(p.RVU) || p.RVU < 0 {
		return &InvalidNameError{Field: "RVU", Value: formatFloat(p.RVU), Reason: "must be a non-negative number"}
	}
	return nil
}

func checkLength(field, s string, limit int) error {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return &InvalidNameError{Field: field, Value: s, Reason: "must not be empty"}
	}
	if n > limit {
		return &InvalidNameError{Field: field, Value: truncate(s, 20), Reason: fmt.Sprintf("must be %d characters or less", limit)}
	}
	return nil
}

// String returns e.g. "26546 - Repair left hand (10.06)".
func (p Procedure) String() string {
	return fmt.Sprintf("%s - %s (%.2f)", p.CPTCode, p.ShortDescription, p.RVU)
}

// LongString is String with the long description.
func (p Procedure) LongString() string {
	return fmt.Sprintf("%s - %s (%.2f)", p.CPTCode, p.LongDescription, p.RVU)
}

func (p Procedure) fields() map[string]any {
	return map[string]any{
		"cptCode":          p.CPTCode,
		"rvu":              p.RVU,
		"complexity":       p.Complexity,
		"shortDescription": p.ShortDescription,
		"longDescription":  p.LongDescription,
		"eligible":         p.Eligible,
	}
}

// ProcedureVariable selects a procedure from a catalog. The catalog is attached
// after configuration load with WithProcedures; until then the variable cannot
// produce values.
type ProcedureVariable struct {
	variableBase
	procedures []Procedure
	byCode     map[string]int
}

// NewProcedureVariable validates info and returns a variable without a catalog.
func NewProcedureVariable(info VariableInfo) (*ProcedureVariable, error) {
	base, err := newVariableBase(info)
	if err != nil {
		return nil, err
	}
	return &ProcedureVariable{variableBase: base}, nil
}

func (v *ProcedureVariable) Kind() Kind { return KindProcedure }

// WithProcedures returns a copy of v holding procs, sorted by CPT code. v itself
// is unchanged.
func (v *ProcedureVariable) WithProcedures(procs []Procedure) (*ProcedureVariable, error) {
	sorted := append([]Procedure(nil), procs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CPTCode < sorted[j].CPTCode })

	byCode := make(map[string]int, len(sorted))
	for i, p := range sorted {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("procedure %s: %w", p.CPTCode, err)
		}
		if _, dup := byCode[p.CPTCode]; dup {
			return nil, fmt.Errorf("duplicate procedure %s", p.CPTCode)
		}
		byCode[p.CPTCode] = i
	}

	return &ProcedureVariable{
		variableBase: v.variableBase,
		procedures:   sorted,
		byCode:       byCode,
	}, nil
}

// Procedures returns the attached catalog, or ErrProceduresNotSet.
func (v *ProcedureVariable) Procedures() ([]Procedure, error) {
	if v.byCode == nil {
		return nil, ErrProceduresNotSet
	}
	return append([]Procedure(nil), v.procedures...), nil
}

// MakeValue selects the procedure with cptCode. Ineligible procedures cannot be
// selected.
func (v *ProcedureVariable) MakeValue(cptCode string) (ProcedureValue, error) {
	if v.byCode == nil {
		return ProcedureValue{}, ErrProceduresNotSet
	}
	i, ok := v.byCode[cptCode]
	if !ok || !v.procedures[i].Eligible {
		return ProcedureValue{}, &InvalidOptionError{VariableKey: v.Key(), Option: cptCode}
	}
	return ProcedureValue{variable: v, procedure: v.procedures[i]}, nil
}

// ProcedureValue is the procedure selected for a ProcedureVariable.
type ProcedureValue struct {
	variable  *ProcedureVariable
	procedure Procedure
}

func (v ProcedureValue) Variable() Variable    { return v.variable }
func (v ProcedureValue) Kind() Kind            { return KindProcedure }
func (v ProcedureValue) Procedure() Procedure  { return v.procedure }
func (v ProcedureValue) Datum() any            { return v.procedure.fields() }
func (v ProcedureValue) DisplayString() string { return v.procedure.String() }
func (v ProcedureValue) String() string        { return valueString(v) }
func (v ProcedureValue) sealedValue()          {}
