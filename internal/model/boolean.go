package model

// BooleanVariable accepts yes or no.
type BooleanVariable struct {
	variableBase
}

// NewBooleanVariable validates info and returns the variable.
func NewBooleanVariable(info VariableInfo) (*BooleanVariable, error) {
	base, err := newVariableBase(info)
	if err != nil {
		return nil, err
	}
	return &BooleanVariable{variableBase: base}, nil
}

func (v *BooleanVariable) Kind() Kind { return KindBoolean }

// MakeValue returns the value for b. Every bool is valid.
func (v *BooleanVariable) MakeValue(b bool) BooleanValue {
	return BooleanValue{variable: v, value: b}
}

// BooleanValue is a yes/no answer for a BooleanVariable.
type BooleanValue struct {
	variable *BooleanVariable
	value    bool
}

func (v BooleanValue) Variable() Variable { return v.variable }
func (v BooleanValue) Kind() Kind         { return KindBoolean }
func (v BooleanValue) Value() bool        { return v.value }
func (v BooleanValue) Datum() any         { return v.value }
func (v BooleanValue) String() string     { return valueString(v) }
func (v BooleanValue) sealedValue()       {}

func (v BooleanValue) DisplayString() string {
	if v.value {
		return "Yes"
	}
	return "No"
}
