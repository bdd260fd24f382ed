package model

import (
	"errors"
	"testing"

	"github.com/opensource-clinical/riskcalc/internal/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRule(t *testing.T) {
	proc := procedureVariable(t)
	age := ageVariable(t)

	t.Run("InvalidSummand", func(t *testing.T) {
		_, err := NewRule("Bad", nil, "coefficient +", false)
		var invalidErr *expr.InvalidExpressionError
		assert.ErrorAs(t, err, &invalidErr)
	})

	t.Run("InvalidCondition", func(t *testing.T) {
		_, err := NewValueMatcher(age, "age >", true)
		var invalidErr *expr.InvalidExpressionError
		assert.ErrorAs(t, err, &invalidErr)
	})

	t.Run("UndeclaredIdentifier", func(t *testing.T) {
		// A condition may not reference a later matcher's value.
		_, err := NewRule("Order", []ValueMatcher{
			MustValueMatcher(age, "age > 50 && procedure.rvu > 5", true),
			MustValueMatcher(proc, "", false),
		}, "coefficient", false)
		var invalidErr *expr.InvalidExpressionError
		assert.ErrorAs(t, err, &invalidErr)

		_, err = NewRule("Order", []ValueMatcher{
			MustValueMatcher(proc, "", false),
			MustValueMatcher(age, "age > 50 && procedure.rvu > 5", true),
		}, "coefficient", false)
		assert.NoError(t, err)
	})

	t.Run("SummandCannotUseThis", func(t *testing.T) {
		_, err := NewRule("This", []ValueMatcher{MustValueMatcher(age, "", false)}, "coefficient * this", false)
		var invalidErr *expr.InvalidExpressionError
		assert.ErrorAs(t, err, &invalidErr)
	})

	t.Run("ConditionMustBeBool", func(t *testing.T) {
		_, err := NewRule("Bool", []ValueMatcher{MustValueMatcher(age, "age * 2", true)}, "coefficient", false)
		var invalidErr *expr.InvalidExpressionError
		assert.ErrorAs(t, err, &invalidErr)
	})

	t.Run("EmptyConditionNeedsDisabledMatcher", func(t *testing.T) {
		_, err := NewValueMatcher(age, "", true)
		assert.Error(t, err)
	})

	t.Run("RequiredVariables", func(t *testing.T) {
		r := mustRule(t, "Both", []ValueMatcher{
			MustValueMatcher(proc, "", false),
			MustValueMatcher(age, "age > 5", true),
		}, "coefficient", false)
		assert.Equal(t, []Variable{proc, age}, r.RequiredVariables())
		assert.Equal(t, []string{"age", "procedure"}, r.RequiredVariableKeys())
	})
}

func TestRuleApply(t *testing.T) {
	proc := procedureVariable(t)
	standard, err := proc.MakeValue("26546")
	require.NoError(t, err)
	complexProc, err := proc.MakeValue("10061")
	require.NoError(t, err)

	r := mustRule(t, "Standard Complexity",
		[]ValueMatcher{MustValueMatcher(proc, "complexity == 'Standard'", true)},
		"coefficient", true)

	t.Run("Matches", func(t *testing.T) {
		got, err := r.Apply(6, ValueSet{proc: standard})
		require.NoError(t, err)
		assert.Equal(t, float32(6), got)
	})

	t.Run("DoesNotMatch", func(t *testing.T) {
		out, err := r.Evaluate(6, ValueSet{proc: complexProc})
		require.NoError(t, err)
		assert.Equal(t, float32(0), out.Summand)
		assert.Equal(t, StatusNotMatched, out.Status)
	})

	t.Run("ThisBinding", func(t *testing.T) {
		r := mustRule(t, "This",
			[]ValueMatcher{MustValueMatcher(proc, "this.complexity == 'Standard' && this.rvu > 10", true)},
			"coefficient * procedure.rvu", false)
		got, err := r.Apply(2, ValueSet{proc: standard})
		require.NoError(t, err)
		assert.InDelta(t, 20.12, got, 0.001)
	})
}

func TestRuleBypass(t *testing.T) {
	age := ageVariable(t)
	dnr := dnrVariable(t)
	fs := functionalStatusVariable(t)

	matchers := []ValueMatcher{
		MustValueMatcher(age, "", false),
		MustValueMatcher(dnr, "dnr", true),
		MustValueMatcher(fs, "", false),
	}
	a, _ := age.MakeValue(50)
	values := ValueSet{a.Variable(): a}

	t.Run("Enabled", func(t *testing.T) {
		r := mustRule(t, "Bypassed", matchers, "coefficient", true)
		out, err := r.Evaluate(3, values)
		require.NoError(t, err)
		assert.Equal(t, StatusBypassed, out.Status)
		assert.Equal(t, float32(0), out.Summand)
		assert.ElementsMatch(t, []Variable{dnr, fs}, out.Missing)
	})

	t.Run("Disabled", func(t *testing.T) {
		r := mustRule(t, "Required", matchers, "coefficient", false)
		_, err := r.Apply(3, values)

		var missingErr *MissingValuesError
		require.ErrorAs(t, err, &missingErr)
		assert.Len(t, missingErr.Variables, 2)
		assert.True(t, missingErr.Contains(dnr))
		assert.True(t, missingErr.Contains(fs))
		assert.Equal(t, []string{"dnr", "functionalStatus"}, missingErr.Keys())
	})
}

func TestRuleAccumulatesMatchedValues(t *testing.T) {
	age := ageVariable(t)
	fs := functionalStatusVariable(t)
	wbc := wbcVariable(t)

	r := mustRule(t, "Elderly Dependent", []ValueMatcher{
		MustValueMatcher(age, "age >= 65", true),
		MustValueMatcher(fs, "age >= 80 || functionalStatus != 'Independent'", true),
		MustValueMatcher(wbc, "category == 'Elevated' && value > 2 * 10", true),
	}, "coefficient * (age - 60) / 10", false)

	values := func(ageVal float32, status string, count float32) ValueSet {
		a, err := age.MakeValue(ageVal)
		require.NoError(t, err)
		f, err := fs.MakeValue(status)
		require.NoError(t, err)
		w, err := wbc.MakeValue(count)
		require.NoError(t, err)
		return ValueSet{age: a, fs: f, wbc: w}
	}

	got, err := r.Apply(2, values(70, "Partially dependent", 25))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-6)

	got, err = r.Apply(2, values(85, "Independent", 25))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got, 1e-6)

	for _, v := range []ValueSet{
		values(60, "Totally dependent", 25),
		values(70, "Independent", 25),
		values(70, "Totally dependent", 15),
	} {
		out, err := r.Evaluate(2, v)
		require.NoError(t, err)
		assert.Equal(t, StatusNotMatched, out.Status)
	}
}

func TestRuleEvaluationError(t *testing.T) {
	wbc := wbcVariable(t)
	age := ageVariable(t)

	t.Run("MissingField", func(t *testing.T) {
		// Only a number entry binds a value field.
		r := mustRule(t, "Count",
			[]ValueMatcher{MustValueMatcher(wbc, "value > 20", true)},
			"coefficient", false)
		v, err := wbc.MakeCategoryValue("Elevated")
		require.NoError(t, err)

		_, err = r.Apply(1, ValueSet{wbc: v})
		var ruleErr *RuleEvaluationError
		require.ErrorAs(t, err, &ruleErr)
		assert.Equal(t, "Count", ruleErr.Rule)
		var evalErr *expr.EvaluationError
		assert.ErrorAs(t, err, &evalErr)

		var missingErr *MissingValuesError
		assert.False(t, errors.As(err, &missingErr))
	})

	t.Run("DivisionByZero", func(t *testing.T) {
		r := mustRule(t, "Divide",
			[]ValueMatcher{MustValueMatcher(age, "", false)},
			"coefficient / (age - 40)", false)
		a, _ := age.MakeValue(40)

		_, err := r.Apply(1, ValueSet{age: a})
		var evalErr *expr.EvaluationError
		assert.ErrorAs(t, err, &evalErr)
	})
}

func TestRuleEqual(t *testing.T) {
	age := ageVariable(t)
	newRule := func(name, cond, summand string, bypass bool) *Rule {
		return mustRule(t, name, []ValueMatcher{MustValueMatcher(age, cond, true)}, summand, bypass)
	}

	base := newRule("Old", "age > 70", "coefficient", false)
	assert.True(t, base.Equal(newRule("Old", "age > 70", "coefficient", false)))
	assert.False(t, base.Equal(newRule("Older", "age > 70", "coefficient", false)))
	assert.False(t, base.Equal(newRule("Old", "age > 80", "coefficient", false)))
	assert.False(t, base.Equal(newRule("Old", "age > 70", "coefficient * 2", false)))
	assert.True(t, base.Equal(newRule("Old", "age > 70", "coefficient", true)), "bypass policy is not part of identity")
	assert.False(t, base.Equal(nil))
}
