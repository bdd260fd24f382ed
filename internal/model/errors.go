package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrProceduresNotSet is returned when a procedure variable is used before its
// procedure catalog has been attached.
var ErrProceduresNotSet = errors.New("procedures have not been set")

// BoundKind distinguishes a violated inclusive bound from an exclusive one.
type BoundKind int

const (
	BoundInclusive BoundKind = iota
	BoundExclusive
)

func (k BoundKind) String() string {
	if k == BoundInclusive {
		return "inclusive"
	}
	return "exclusive"
}

// InvalidRangeError reports a range with a NaN bound, or a variable range that
// admits no value.
type InvalidRangeError struct {
	Lower  float32
	Upper  float32
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range (lower=%v, upper=%v): %s", e.Lower, e.Upper, e.Reason)
}

// ValueTooLowError reports a value below a range's lower bound.
type ValueTooLowError struct {
	Value float32
	Bound float32
	Kind  BoundKind
}

func (e *ValueTooLowError) Error() string {
	if e.Kind == BoundInclusive {
		return fmt.Sprintf("value must be greater than or equal to %s", formatFloat(e.Bound))
	}
	return fmt.Sprintf("value must be greater than %s", formatFloat(e.Bound))
}

// ValueTooHighError reports a value above a range's upper bound.
type ValueTooHighError struct {
	Value float32
	Bound float32
	Kind  BoundKind
}

func (e *ValueTooHighError) Error() string {
	if e.Kind == BoundInclusive {
		return fmt.Sprintf("value must be less than or equal to %s", formatFloat(e.Bound))
	}
	return fmt.Sprintf("value must be less than %s", formatFloat(e.Bound))
}

// InvalidOptionError reports a selection that is not one of a variable's options.
type InvalidOptionError struct {
	VariableKey string
	Option      string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("%q is not a valid option for %s", e.Option, e.VariableKey)
}

// ValueOutOfCategoriesError reports a discrete numerical value that lies inside
// the variable's range but in no category.
type ValueOutOfCategoriesError struct {
	VariableKey string
	Value       float32
}

func (e *ValueOutOfCategoriesError) Error() string {
	return fmt.Sprintf("value %s does not fall in any category of %s", formatFloat(e.Value), e.VariableKey)
}

// InvalidCategoriesError reports discrete numerical categories that overlap,
// repeat a label or fall outside the variable's range.
type InvalidCategoriesError struct {
	VariableKey string
	Reason      string
}

func (e *InvalidCategoriesError) Error() string {
	return fmt.Sprintf("invalid categories for %s: %s", e.VariableKey, e.Reason)
}

// InvalidKeyError reports a malformed variable key.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key %q: %s", e.Key, e.Reason)
}

// InvalidNameError reports a malformed display name or other bounded text field.
type InvalidNameError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// MissingValuesError reports variables for which no value was supplied. It
// always carries a set, even when a single variable is missing.
type MissingValuesError struct {
	Variables map[Variable]struct{}
}

func newMissingValuesError(vars ...Variable) *MissingValuesError {
	set := make(map[Variable]struct{}, len(vars))
	for _, v := range vars {
		set[v] = struct{}{}
	}
	return &MissingValuesError{Variables: set}
}

// Keys returns the keys of the missing variables, sorted.
func (e *MissingValuesError) Keys() []string {
	keys := make([]string, 0, len(e.Variables))
	for v := range e.Variables {
		keys = append(keys, v.Key())
	}
	sort.Strings(keys)
	return keys
}

// Contains reports whether v is among the missing variables.
func (e *MissingValuesError) Contains(v Variable) bool {
	_, ok := e.Variables[v]
	return ok
}

func (e *MissingValuesError) Error() string {
	return "missing values for: " + strings.Join(e.Keys(), ", ")
}

// DuplicateVariableError reports two values supplied for the same variable.
type DuplicateVariableError struct {
	Variable Variable
}

func (e *DuplicateVariableError) Error() string {
	return fmt.Sprintf("more than one value supplied for %s", e.Variable.Key())
}

// NonFiniteError reports a term summand, or the sum of a model's summands,
// that is infinite or NaN. Term is empty when the sum overflowed.
type NonFiniteError struct {
	Model string
	Term  string
	Value float32
}

func (e *NonFiniteError) Error() string {
	if e.Term != "" {
		return fmt.Sprintf("term %s produced non-finite summand %v", e.Term, e.Value)
	}
	return fmt.Sprintf("model %q produced non-finite sum %v", e.Model, e.Value)
}

// RuleEvaluationError wraps an expression failure with the rule it occurred in.
type RuleEvaluationError struct {
	Rule string
	Err  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Rule, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}
