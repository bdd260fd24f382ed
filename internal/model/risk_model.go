package model

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

// RiskModel is a named, ordered set of terms. Its probability is the logistic
// transform of the sum of the terms' summands.
type RiskModel struct {
	displayName string
	terms       []Term
}

// NewRiskModel validates displayName and returns the model.
func NewRiskModel(displayName string, terms ...Term) (*RiskModel, error) {
	if err := validateDisplayName("model name", displayName); err != nil {
		return nil, err
	}
	for i, t := range terms {
		if t == nil {
			return nil, fmt.Errorf("model %q: term %d is nil", displayName, i)
		}
	}
	return &RiskModel{displayName: displayName, terms: slices.Clone(terms)}, nil
}

func (m *RiskModel) DisplayName() string { return m.displayName }

// Terms returns the terms in declaration order.
func (m *RiskModel) Terms() []Term {
	return slices.Clone(m.terms)
}

// RequiredVariables returns the union of the terms' variables, in term order.
func (m *RiskModel) RequiredVariables() []Variable {
	var vars []Variable
	for _, t := range m.terms {
		for _, v := range t.RequiredVariables() {
			if !slices.Contains(vars, v) {
				vars = append(vars, v)
			}
		}
	}
	return vars
}

// TermContribution is one term's share of an Evaluation.
type TermContribution struct {
	Term    Term
	Status  Status
	Summand float32
}

// Evaluation is a calculated probability together with how it was reached.
type Evaluation struct {
	Model       *RiskModel
	Sum         float32
	Probability float64
	Terms       []TermContribution
}

// Calculate returns the model's probability for values.
func (m *RiskModel) Calculate(values []Value) (float64, error) {
	ev, err := m.Evaluate(values)
	if err != nil {
		return 0, err
	}
	return ev.Probability, nil
}

// Evaluate computes the probability for values along with every term's
// summand. It fails with a DuplicateVariableError if two values share a
// variable, and with a MissingValuesError naming every required variable that
// has no value. Terms are summed in declaration order; a summand or sum that
// is not finite fails with a NonFiniteError.
func (m *RiskModel) Evaluate(values []Value) (*Evaluation, error) {
	set, err := NewValueSet(values)
	if err != nil {
		return nil, err
	}
	if missing := set.Missing(m.RequiredVariables()); len(missing) > 0 {
		return nil, newMissingValuesError(missing...)
	}

	ev := &Evaluation{Model: m, Terms: make([]TermContribution, 0, len(m.terms))}
	for _, t := range m.terms {
		out, err := t.Evaluate(set)
		if err != nil {
			var nf *NonFiniteError
			if errors.As(err, &nf) && nf.Model == "" {
				nf.Model = m.displayName
			}
			return nil, err
		}
		ev.Sum += out.Summand
		ev.Terms = append(ev.Terms, TermContribution{Term: t, Status: out.Status, Summand: out.Summand})
	}
	if !isFinite(ev.Sum) {
		return nil, &NonFiniteError{Model: m.displayName, Value: ev.Sum}
	}
	ev.Probability = Logistic(float64(ev.Sum))
	return ev, nil
}

// Logistic returns exp(x) / (1 + exp(x)) without overflowing for large x.
func Logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Compare orders models by display name.
func (m *RiskModel) Compare(other *RiskModel) int {
	return cmp.Compare(m.displayName, other.displayName)
}

func (m *RiskModel) String() string {
	return fmt.Sprintf("RiskModel %q with %d terms", m.displayName, len(m.terms))
}
