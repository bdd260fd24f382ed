// Package expr evaluates the small expressions used by risk model rules.
//
// Expressions are CEL, restricted to literals, identifiers, single-level field
// selection, comparison, boolean and arithmetic operators. Every numeric value is
// a double: integer literals are promoted when the expression is parsed so that
// "age * 2" and "age > 50" type-check against double-valued variables.
package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Expression is a syntactically valid expression that has not yet been bound to
// a set of declarations.
type Expression struct {
	text   string
	source string
}

var (
	parseEnvOnce sync.Once
	parseEnv     *cel.Env
	parseEnvErr  error
)

func sharedParseEnv() (*cel.Env, error) {
	parseEnvOnce.Do(func() {
		parseEnv, parseEnvErr = cel.NewEnv(baseOptions()...)
	})
	return parseEnv, parseEnvErr
}

// Parse validates the syntax of text and the operators it uses.
func Parse(text string) (*Expression, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidExpressionError{Expression: text, Err: fmt.Errorf("expression is empty")}
	}

	env, err := sharedParseEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	source := promoteIntLiterals(text)
	ast, iss := env.Parse(source)
	if iss.Err() != nil {
		return nil, &InvalidExpressionError{Expression: text, Err: iss.Err()}
	}

	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, &InvalidExpressionError{Expression: text, Err: err}
	}
	if err := checkScope(parsed.GetExpr()); err != nil {
		return nil, &InvalidExpressionError{Expression: text, Err: err}
	}

	return &Expression{text: text, source: source}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and fixed
// expressions known at compile time.
func MustParse(text string) *Expression {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// Text returns the expression as written.
func (e *Expression) Text() string {
	return e.text
}

// String implements fmt.Stringer.
func (e *Expression) String() string {
	return e.text
}

var allowedOperators = map[string]bool{
	operators.Add:           true,
	operators.Subtract:      true,
	operators.Multiply:      true,
	operators.Divide:        true,
	operators.Negate:        true,
	operators.Equals:        true,
	operators.NotEquals:     true,
	operators.Less:          true,
	operators.LessEquals:    true,
	operators.Greater:       true,
	operators.GreaterEquals: true,
	operators.LogicalAnd:    true,
	operators.LogicalOr:     true,
	operators.LogicalNot:    true,
	operators.Conditional:   true,
}

// checkScope rejects anything beyond the operator subset: function and method
// calls, indexing, aggregate literals, presence tests and nested selection.
func checkScope(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}

	switch k := e.GetExprKind().(type) {
	case *exprpb.Expr_ConstExpr, *exprpb.Expr_IdentExpr:
		return nil

	case *exprpb.Expr_SelectExpr:
		sel := k.SelectExpr
		if sel.GetTestOnly() {
			return fmt.Errorf("presence tests are not supported")
		}
		if _, ok := sel.GetOperand().GetExprKind().(*exprpb.Expr_IdentExpr); !ok {
			return fmt.Errorf("only single-level field access is supported (field %q)", sel.GetField())
		}
		return nil

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if call.GetTarget() != nil {
			return fmt.Errorf("method calls are not supported (%s)", call.GetFunction())
		}
		if !allowedOperators[call.GetFunction()] {
			name := call.GetFunction()
			if display, ok := operators.FindReverse(name); ok {
				name = display
			}
			return fmt.Errorf("function or operator %q is not supported", name)
		}
		for _, arg := range call.GetArgs() {
			if err := checkScope(arg); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("list, map, struct and comprehension expressions are not supported")
	}
}
