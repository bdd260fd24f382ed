package model

import (
	"sort"
)

// Value is a datum bound to exactly one Variable. Values are created only by
// their variable's MakeValue methods, so a Value always agrees with the kind of
// the variable it references.
type Value interface {
	Variable() Variable
	Kind() Kind

	// Datum is the form of the value bound into expressions: a float32, a
	// bool, a string or a map of named fields.
	Datum() any

	DisplayString() string
	String() string

	sealedValue()
}

func valueString(v Value) string {
	return v.Variable().DisplayName() + " = " + v.DisplayString()
}

// SortValues orders values by the display name of their variables.
func SortValues(values []Value) {
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].Variable().DisplayName() < values[j].Variable().DisplayName()
	})
}

// ValueSet indexes values by variable.
type ValueSet map[Variable]Value

// NewValueSet indexes values by their variables. It fails with a
// DuplicateVariableError if two values reference the same variable.
func NewValueSet(values []Value) (ValueSet, error) {
	set := make(ValueSet, len(values))
	for _, v := range values {
		if _, dup := set[v.Variable()]; dup {
			return nil, &DuplicateVariableError{Variable: v.Variable()}
		}
		set[v.Variable()] = v
	}
	return set, nil
}

// Missing returns the variables in required that have no value in s.
func (s ValueSet) Missing(required []Variable) []Variable {
	var missing []Variable
	for _, v := range required {
		if _, ok := s[v]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}
