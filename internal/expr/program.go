package expr

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Program is a compiled expression. Programs are immutable and may be evaluated
// concurrently.
type Program struct {
	text string
	kind ResultKind
	prg  cel.Program
}

// Text returns the source expression.
func (p *Program) Text() string {
	return p.text
}

// Bindings maps declared identifiers to their values for one evaluation.
type Bindings map[string]any

func (b Bindings) activation() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[k] = Normalize(v)
	}
	return out
}

// Normalize converts Go values into the forms expressions operate on: every
// number becomes a float64 and nested maps are normalised recursively.
func Normalize(v any) any {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, nested := range x {
			out[k] = Normalize(nested)
		}
		return out
	default:
		return v
	}
}

func (p *Program) eval(b Bindings) (ref.Val, error) {
	out, _, err := p.prg.Eval(b.activation())
	if err != nil {
		return nil, &EvaluationError{Expression: p.text, Err: err}
	}
	return out, nil
}

// EvalBool evaluates a condition.
func (p *Program) EvalBool(b Bindings) (bool, error) {
	out, err := p.eval(b)
	if err != nil {
		return false, err
	}

	v, ok := out.(types.Bool)
	if !ok {
		return false, &EvaluationError{
			Expression: p.text,
			Err:        fmt.Errorf("expected bool result, got %s", out.Type().TypeName()),
		}
	}
	return bool(v), nil
}

// EvalNumber evaluates a numeric formula. Results are single precision;
// non-finite results are reported as evaluation errors.
func (p *Program) EvalNumber(b Bindings) (float32, error) {
	out, err := p.eval(b)
	if err != nil {
		return 0, err
	}

	var f float64
	switch v := out.(type) {
	case types.Double:
		f = float64(v)
	case types.Int:
		f = float64(v)
	case types.Uint:
		f = float64(v)
	default:
		return 0, &EvaluationError{
			Expression: p.text,
			Err:        fmt.Errorf("expected numeric result, got %s", out.Type().TypeName()),
		}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
		return 0, &EvaluationError{
			Expression: p.text,
			Err:        fmt.Errorf("result %v is not a finite number", f),
		}
	}
	return float32(f), nil
}
