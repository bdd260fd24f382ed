package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	demographics = VariableGroup{Name: "Demographics", DisplayOrder: 1}
	planned      = VariableGroup{Name: "Planned Procedure", DisplayOrder: 0}
	labs         = VariableGroup{Name: "Laboratory Values", DisplayOrder: 3}
	clinical     = VariableGroup{Name: "Clinical Conditions", DisplayOrder: 2}
)

func repairLeftProcedure() Procedure {
	return Procedure{
		CPTCode:          "26546",
		RVU:              10.06,
		ShortDescription: "Repair left hand",
		LongDescription:  "Repair left hand - you know, the thing with fingers",
		Complexity:       "Standard",
		Eligible:         true,
	}
}

func sampleProcedures() []Procedure {
	return []Procedure{
		{CPTCode: "10061", RVU: 5.0, ShortDescription: "Drain skin abscess", LongDescription: "Drainage of skin abscess", Complexity: "Complex", Eligible: true},
		repairLeftProcedure(),
		{CPTCode: "47010", RVU: 19.2, ShortDescription: "Open drainage liver lesion", LongDescription: "Hepatotomy for open drainage of abscess or cyst", Complexity: "Complex", Eligible: false},
	}
}

func procedureVariable(t *testing.T) *ProcedureVariable {
	t.Helper()
	v, err := NewProcedureVariable(VariableInfo{Key: "procedure", DisplayName: "Procedure", Group: planned})
	require.NoError(t, err)
	v, err = v.WithProcedures(sampleProcedures())
	require.NoError(t, err)
	return v
}

func ageVariable(t *testing.T) *NumericalVariable {
	t.Helper()
	v, err := NewNumericalVariable(
		VariableInfo{Key: "age", DisplayName: "Age", Group: demographics},
		MustNumericalRange(0, true, 999, true),
		"years",
	)
	require.NoError(t, err)
	return v
}

func dnrVariable(t *testing.T) *BooleanVariable {
	t.Helper()
	v, err := NewBooleanVariable(VariableInfo{Key: "dnr", DisplayName: "DNR", Group: clinical})
	require.NoError(t, err)
	return v
}

func functionalStatusVariable(t *testing.T) *MultiSelectVariable {
	t.Helper()
	v, err := NewMultiSelectVariable(
		VariableInfo{Key: "functionalStatus", DisplayName: "Functional Status", Group: clinical},
		[]string{"Independent", "Partially dependent", "Totally dependent"},
		DisplayRadio,
	)
	require.NoError(t, err)
	return v
}

func wbcVariable(t *testing.T) *DiscreteNumericalVariable {
	t.Helper()
	v, err := NewDiscreteNumericalVariable(
		VariableInfo{Key: "preopWbc", DisplayName: "White Blood Count", Group: labs},
		MustNumericalRange(0, true, 50, true),
		"x1000/mm^3",
		[]Category{
			{Range: MustNumericalRange(11, false, 50, true), Label: "Elevated"},
			{Range: MustNumericalRange(0, true, 11, true), Label: "Normal"},
		},
	)
	require.NoError(t, err)
	return v
}

func mustRule(t *testing.T, name string, matchers []ValueMatcher, summand string, bypass bool) *Rule {
	t.Helper()
	r, err := NewRule(name, matchers, summand, bypass)
	require.NoError(t, err)
	return r
}
