package model

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleVariables struct {
	procedure        *ProcedureVariable
	age              *NumericalVariable
	dnr              *BooleanVariable
	wbc              *DiscreteNumericalVariable
	functionalStatus *MultiSelectVariable
}

func newSampleVariables(t *testing.T) sampleVariables {
	return sampleVariables{
		procedure:        procedureVariable(t),
		age:              ageVariable(t),
		dnr:              dnrVariable(t),
		wbc:              wbcVariable(t),
		functionalStatus: functionalStatusVariable(t),
	}
}

// sampleModel builds a thoracic-style model whose terms are, in order: an RVU
// rule, an age term, a DNR rule, a white blood count rule, a functional status
// rule and a procedure complexity rule.
func sampleModel(t *testing.T, vars sampleVariables, coefficients [6]float32) *RiskModel {
	t.Helper()

	rvu := mustRule(t, "Procedure RVU",
		[]ValueMatcher{MustValueMatcher(vars.procedure, "", false)},
		"coefficient * procedure.rvu", false)
	dnr := mustRule(t, "DNR",
		[]ValueMatcher{MustValueMatcher(vars.dnr, "dnr", true)},
		"coefficient", true)
	wbc := mustRule(t, "Elevated WBC",
		[]ValueMatcher{MustValueMatcher(vars.wbc, "category == 'Elevated'", true)},
		"coefficient", false)
	fs := mustRule(t, "Partially Dependent",
		[]ValueMatcher{MustValueMatcher(vars.functionalStatus, "functionalStatus == 'Partially dependent'", true)},
		"coefficient", false)
	standard := mustRule(t, "Standard Complexity",
		[]ValueMatcher{MustValueMatcher(vars.procedure, "complexity == 'Standard'", true)},
		"coefficient", true)

	m, err := NewRiskModel("Thoracic 30-day mortality estimate",
		NewDerivedTerm(coefficients[0], rvu),
		NewNumericalTerm(coefficients[1], vars.age),
		NewDerivedTerm(coefficients[2], dnr),
		NewDerivedTerm(coefficients[3], wbc),
		NewDerivedTerm(coefficients[4], fs),
		NewDerivedTerm(coefficients[5], standard),
	)
	require.NoError(t, err)
	return m
}

func sampleValues(t *testing.T, vars sampleVariables, age float32) []Value {
	t.Helper()
	proc, err := vars.procedure.MakeValue("26546")
	require.NoError(t, err)
	a, err := vars.age.MakeValue(age)
	require.NoError(t, err)
	wbc, err := vars.wbc.MakeValue(25)
	require.NoError(t, err)
	fs, err := vars.functionalStatus.MakeValue("Partially dependent")
	require.NoError(t, err)
	return []Value{proc, vars.dnr.MakeValue(true), a, wbc, fs}
}

func TestRiskModelRequiredVariables(t *testing.T) {
	vars := newSampleVariables(t)
	m := sampleModel(t, vars, [6]float32{1, 2, 3, 4, 5, 6})

	assert.ElementsMatch(t,
		[]Variable{vars.procedure, vars.age, vars.dnr, vars.wbc, vars.functionalStatus},
		m.RequiredVariables())
	assert.Len(t, m.RequiredVariables(), 5, "shared variables appear once")
}

func TestRiskModelCalculate(t *testing.T) {
	vars := newSampleVariables(t)

	t.Run("Saturated", func(t *testing.T) {
		m := sampleModel(t, vars, [6]float32{1, 2, 3, 4, 5, 6})
		got, err := m.Calculate(sampleValues(t, vars, 26))
		require.NoError(t, err)

		sum := 1.0*float64(float32(10.06)) + 2.0*26 + 3 + 4 + 5 + 6
		expected := math.Exp(sum) / (1 + math.Exp(sum))
		assert.InDelta(t, expected, got, 0.01)
	})

	t.Run("Informative", func(t *testing.T) {
		m := sampleModel(t, vars, [6]float32{0.1, -0.05, 0.3, 0.4, 0.5, 0.6})
		ev, err := m.Evaluate(sampleValues(t, vars, 26))
		require.NoError(t, err)

		sum := 0.1*10.06 - 0.05*26 + 0.3 + 0.4 + 0.5 + 0.6
		assert.InDelta(t, sum, ev.Sum, 1e-5)
		assert.InDelta(t, math.Exp(sum)/(1+math.Exp(sum)), ev.Probability, 1e-6)

		require.Len(t, ev.Terms, 6)
		for _, c := range ev.Terms {
			assert.Equal(t, StatusFired, c.Status, c.Term.String())
		}
		assert.InDelta(t, -1.3, ev.Terms[1].Summand, 1e-5)
	})

	t.Run("RuleNotMatched", func(t *testing.T) {
		m := sampleModel(t, vars, [6]float32{0.1, -0.05, 0.3, 0.4, 0.5, 0.6})
		values := sampleValues(t, vars, 26)
		low, err := vars.wbc.MakeValue(5)
		require.NoError(t, err)
		values[3] = low

		ev, err := m.Evaluate(values)
		require.NoError(t, err)
		assert.Equal(t, StatusNotMatched, ev.Terms[3].Status)
		assert.Zero(t, ev.Terms[3].Summand)
	})
}

func TestRiskModelDuplicateValues(t *testing.T) {
	vars := newSampleVariables(t)
	m, err := NewRiskModel("model", NewDerivedTerm(1, mustRule(t, "DNR",
		[]ValueMatcher{MustValueMatcher(vars.dnr, "dnr", true)}, "coefficient", false)))
	require.NoError(t, err)

	_, err = m.Calculate([]Value{vars.dnr.MakeValue(true), vars.dnr.MakeValue(false)})
	var dupErr *DuplicateVariableError
	require.ErrorAs(t, err, &dupErr)
	assert.Same(t, vars.dnr, dupErr.Variable)
}

func TestRiskModelMissingValues(t *testing.T) {
	vars := newSampleVariables(t)
	m := sampleModel(t, vars, [6]float32{1, 2, 3, 4, 5, 6})
	a, err := vars.age.MakeValue(12)
	require.NoError(t, err)

	_, err = m.Calculate([]Value{vars.dnr.MakeValue(true), a})

	// Reported together, including the variable of a bypass-enabled rule.
	var missingErr *MissingValuesError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, []string{"functionalStatus", "preopWbc", "procedure"}, missingErr.Keys())
}

func TestNumericalTerm(t *testing.T) {
	age := ageVariable(t)
	term := NewNumericalTerm(10.1, age)

	assert.Equal(t, float32(10.1), term.Coefficient())
	assert.Same(t, age, term.Variable())
	assert.Equal(t, []Variable{age}, term.RequiredVariables())
	assert.True(t, strings.Contains(term.String(), "10.1"))
	assert.True(t, strings.Contains(term.String(), "age"))

	_, err := term.Summand(ValueSet{})
	var missingErr *MissingValuesError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, []string{"age"}, missingErr.Keys())

	assert.True(t, term.Equal(NewNumericalTerm(10.1, age)))
	assert.False(t, term.Equal(NewNumericalTerm(10, age)))
	assert.False(t, term.Equal(NewNumericalTerm(10.1, ageVariable(t))))
}

func TestDerivedTermEqual(t *testing.T) {
	dnr := dnrVariable(t)
	rule := func() *Rule {
		return mustRule(t, "DNR", []ValueMatcher{MustValueMatcher(dnr, "dnr", true)}, "coefficient", true)
	}
	term := NewDerivedTerm(3, rule())

	assert.True(t, term.Equal(NewDerivedTerm(3, rule())))
	assert.False(t, term.Equal(NewDerivedTerm(4, rule())))
	assert.False(t, term.Equal(NewNumericalTerm(3, ageVariable(t))))
}

func TestRiskModelDisplayName(t *testing.T) {
	_, err := NewRiskModel(strings.Repeat("0123456789", 8) + "X")
	var nameErr *InvalidNameError
	assert.ErrorAs(t, err, &nameErr)
}

func TestRiskModelString(t *testing.T) {
	m := sampleModel(t, newSampleVariables(t), [6]float32{1, 2, 3, 4, 5, 6})
	assert.Equal(t, `RiskModel "Thoracic 30-day mortality estimate" with 6 terms`, m.String())
}

func TestRiskModelCompare(t *testing.T) {
	a, _ := NewRiskModel("a")
	b, _ := NewRiskModel("b")
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestLogistic(t *testing.T) {
	assert.Equal(t, 0.5, Logistic(0))
	assert.Equal(t, 1.0, Logistic(1000))
	assert.Equal(t, 0.0, Logistic(-1000))
	assert.InDelta(t, math.Exp(2)/(1+math.Exp(2)), Logistic(2), 1e-12)
}

func wideVariable(t *testing.T, key string) *NumericalVariable {
	t.Helper()
	v, err := NewNumericalVariable(
		VariableInfo{Key: key, DisplayName: key, Group: labs},
		MustNumericalRange(-RangeMax, true, RangeMax, true),
		"",
	)
	require.NoError(t, err)
	return v
}

func TestRiskModelNonFinite(t *testing.T) {
	a := wideVariable(t, "a")
	b := wideVariable(t, "b")
	aMax, err := a.MakeValue(RangeMax)
	require.NoError(t, err)
	bMax, err := b.MakeValue(RangeMax)
	require.NoError(t, err)
	bMin, err := b.MakeValue(-RangeMax)
	require.NoError(t, err)

	t.Run("TermOverflow", func(t *testing.T) {
		m, err := NewRiskModel("Overflow", NewNumericalTerm(1e30, a), NewNumericalTerm(1e30, b))
		require.NoError(t, err)

		p, err := m.Calculate([]Value{aMax, bMin})
		var nf *NonFiniteError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Overflow", nf.Model)
		assert.Contains(t, nf.Term, "a")
		assert.Zero(t, p)
	})

	t.Run("SumOverflow", func(t *testing.T) {
		// Each summand is 3e38, just inside float32; their sum is not.
		m, err := NewRiskModel("Sum", NewNumericalTerm(3e26, a), NewNumericalTerm(3e26, b))
		require.NoError(t, err)

		_, err = m.Calculate([]Value{aMax, bMax})
		var nf *NonFiniteError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Sum", nf.Model)
		assert.Empty(t, nf.Term)
		assert.True(t, math.IsInf(float64(nf.Value), 1))
	})

	t.Run("LargeFiniteSaturates", func(t *testing.T) {
		m, err := NewRiskModel("Saturated", NewNumericalTerm(1e20, a))
		require.NoError(t, err)

		p, err := m.Calculate([]Value{aMax})
		require.NoError(t, err)
		assert.Equal(t, 1.0, p)
	})
}
