package model

import "fmt"

// NumericalVariable accepts a number within a range.
type NumericalVariable struct {
	variableBase
	rng   NumericalRange
	units string
}

// NewNumericalVariable validates info and rng and returns the variable.
func NewNumericalVariable(info VariableInfo, rng NumericalRange, units string) (*NumericalVariable, error) {
	base, err := newVariableBase(info)
	if err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("variable %s: %w", info.Key, err)
	}
	return &NumericalVariable{variableBase: base, rng: rng, units: units}, nil
}

func (v *NumericalVariable) Kind() Kind            { return KindNumerical }
func (v *NumericalVariable) Range() NumericalRange { return v.rng }
func (v *NumericalVariable) Units() string         { return v.units }

// MakeValue returns a value for x, or a ValueTooLowError or ValueTooHighError
// when x is outside the variable's range.
func (v *NumericalVariable) MakeValue(x float32) (NumericalValue, error) {
	if _, err := v.rng.CheckValue(x); err != nil {
		return NumericalValue{}, err
	}
	return NumericalValue{variable: v, value: x}, nil
}

// NumericalValue is a number entered for a NumericalVariable.
type NumericalValue struct {
	variable *NumericalVariable
	value    float32
}

func (v NumericalValue) Variable() Variable    { return v.variable }
func (v NumericalValue) Kind() Kind            { return KindNumerical }
func (v NumericalValue) Value() float32        { return v.value }
func (v NumericalValue) Datum() any            { return v.value }
func (v NumericalValue) DisplayString() string { return formatFloat(v.value) }
func (v NumericalValue) String() string        { return valueString(v) }
func (v NumericalValue) sealedValue()          {}
