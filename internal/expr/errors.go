package expr

import "fmt"

// InvalidExpressionError reports an expression that cannot be parsed or
// type-checked.
type InvalidExpressionError struct {
	Expression string
	Err        error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression %q: %v", e.Expression, e.Err)
}

func (e *InvalidExpressionError) Unwrap() error {
	return e.Err
}

// EvaluationError reports a failure while evaluating a compiled expression, such
// as a runtime type mismatch or a non-finite arithmetic result.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
