package model

import (
	"fmt"
	"math"
)

// Term is one additive contributor to a risk model's score. The implementations
// are *NumericalTerm and *DerivedTerm.
type Term interface {
	Coefficient() float32
	RequiredVariables() []Variable
	Summand(values ValueSet) (float32, error)

	// Evaluate is Summand with the reason for the result.
	Evaluate(values ValueSet) (RuleOutcome, error)

	Equal(other Term) bool
	String() string

	sealedTerm()
}

// NumericalTerm contributes coefficient × the value of a numerical variable.
type NumericalTerm struct {
	coefficient float32
	variable    *NumericalVariable
}

func NewNumericalTerm(coefficient float32, variable *NumericalVariable) *NumericalTerm {
	return &NumericalTerm{coefficient: coefficient, variable: variable}
}

func (t *NumericalTerm) Coefficient() float32          { return t.coefficient }
func (t *NumericalTerm) Variable() *NumericalVariable  { return t.variable }
func (t *NumericalTerm) RequiredVariables() []Variable { return []Variable{t.variable} }
func (t *NumericalTerm) sealedTerm()                   {}

func (t *NumericalTerm) Summand(values ValueSet) (float32, error) {
	out, err := t.Evaluate(values)
	return out.Summand, err
}

func (t *NumericalTerm) Evaluate(values ValueSet) (RuleOutcome, error) {
	v, ok := values[t.variable]
	if !ok {
		return RuleOutcome{}, newMissingValuesError(t.variable)
	}
	nv, ok := v.(NumericalValue)
	if !ok {
		return RuleOutcome{}, fmt.Errorf("value for %s is %s, not numerical", t.variable.Key(), v.Kind())
	}
	summand := t.coefficient * nv.Value()
	if !isFinite(summand) {
		return RuleOutcome{}, &NonFiniteError{Term: t.String(), Value: summand}
	}
	return RuleOutcome{Status: StatusFired, Summand: summand}, nil
}

func isFinite(x float32) bool {
	f := float64(x)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (t *NumericalTerm) Equal(other Term) bool {
	o, ok := other.(*NumericalTerm)
	return ok && o.coefficient == t.coefficient && o.variable == t.variable
}

func (t *NumericalTerm) String() string {
	return fmt.Sprintf("%s × %s", formatFloat(t.coefficient), t.variable.Key())
}

// DerivedTerm contributes the summand of a rule applied with its coefficient.
type DerivedTerm struct {
	coefficient float32
	rule        *Rule
}

func NewDerivedTerm(coefficient float32, rule *Rule) *DerivedTerm {
	return &DerivedTerm{coefficient: coefficient, rule: rule}
}

func (t *DerivedTerm) Coefficient() float32          { return t.coefficient }
func (t *DerivedTerm) Rule() *Rule                   { return t.rule }
func (t *DerivedTerm) RequiredVariables() []Variable { return t.rule.RequiredVariables() }
func (t *DerivedTerm) sealedTerm()                   {}

// Summand applies the rule. A MissingValuesError from the rule is returned
// unchanged.
func (t *DerivedTerm) Summand(values ValueSet) (float32, error) {
	return t.rule.Apply(t.coefficient, values)
}

func (t *DerivedTerm) Evaluate(values ValueSet) (RuleOutcome, error) {
	return t.rule.Evaluate(t.coefficient, values)
}

func (t *DerivedTerm) Equal(other Term) bool {
	o, ok := other.(*DerivedTerm)
	return ok && o.coefficient == t.coefficient && o.rule.Equal(t.rule)
}

func (t *DerivedTerm) String() string {
	return fmt.Sprintf("%s × %s", formatFloat(t.coefficient), t.rule.DisplayName())
}
