package model

import (
	"fmt"
	"slices"
	"sort"

	"github.com/opensource-clinical/riskcalc/internal/expr"
)

// Status describes how a term produced its summand.
type Status int

const (
	// StatusFired means every condition held and the summand was evaluated.
	StatusFired Status = iota
	// StatusNotMatched means a matcher condition evaluated false.
	StatusNotMatched
	// StatusBypassed means a required value was missing and the rule allows bypass.
	StatusBypassed
)

func (s Status) String() string {
	switch s {
	case StatusFired:
		return "fired"
	case StatusNotMatched:
		return "not_matched"
	case StatusBypassed:
		return "bypassed"
	default:
		return "unknown"
	}
}

// RuleOutcome is the result of evaluating a rule against a set of values.
type RuleOutcome struct {
	Status  Status
	Summand float32

	// Missing lists the absent variables of a bypassed rule.
	Missing []Variable
}

// Rule is an ordered list of matchers and a summand expression. When every
// matcher's condition holds, the rule contributes the summand, evaluated with
// the matched values and a coefficient bound.
//
// Rules are immutable and may be shared by any number of terms and models.
type Rule struct {
	displayName   string
	matchers      []ValueMatcher
	summand       *expr.Expression
	bypassEnabled bool

	conditions []*expr.Program // parallel to matchers; nil when not evaluated
	formula    *expr.Program
}

// NewRule validates and compiles a rule. Conditions are checked against the
// identifiers visible at their position: "this", the keys of the matchers up
// to and including their own, and the fields of their own value. The summand
// sees every matcher key and "coefficient".
func NewRule(displayName string, matchers []ValueMatcher, summand string, bypassEnabled bool) (*Rule, error) {
	if err := validateDisplayName("rule name", displayName); err != nil {
		return nil, err
	}

	keys := make(map[string]Variable, len(matchers))
	for _, m := range matchers {
		if m.variable == nil {
			return nil, fmt.Errorf("rule %q: matcher has no variable", displayName)
		}
		if prev, ok := keys[m.variable.Key()]; ok && prev != m.variable {
			return nil, fmt.Errorf("rule %q: two variables share key %s", displayName, m.variable.Key())
		}
		keys[m.variable.Key()] = m.variable
	}

	x, err := expr.Parse(summand)
	if err != nil {
		return nil, err
	}

	r := &Rule{
		displayName:   displayName,
		matchers:      slices.Clone(matchers),
		summand:       x,
		bypassEnabled: bypassEnabled,
		conditions:    make([]*expr.Program, len(matchers)),
	}

	env := expr.Shared()
	for i, m := range r.matchers {
		if !m.evaluated() {
			continue
		}
		prg, err := env.Compile(m.condition, r.conditionDeclarations(i), expr.ResultBool)
		if err != nil {
			return nil, err
		}
		r.conditions[i] = prg
	}

	decls := expr.Declarations{BindingCoefficient: expr.TypeNumber}
	for _, m := range r.matchers {
		decls[m.variable.Key()] = bindingType(m.variable)
	}
	if r.formula, err = env.Compile(x, decls, expr.ResultNumber); err != nil {
		return nil, err
	}
	return r, nil
}

// conditionDeclarations returns what the condition of matcher i may reference.
func (r *Rule) conditionDeclarations(i int) expr.Declarations {
	decls := expr.Declarations{BindingThis: bindingType(r.matchers[i].variable)}
	for _, m := range r.matchers[:i+1] {
		decls[m.variable.Key()] = bindingType(m.variable)
	}
	for _, field := range datumFields(r.matchers[i].variable) {
		if _, taken := decls[field]; !taken && field != BindingCoefficient {
			decls[field] = expr.TypeDyn
		}
	}
	return decls
}

func (r *Rule) DisplayName() string { return r.displayName }
func (r *Rule) Summand() string     { return r.summand.Text() }
func (r *Rule) BypassEnabled() bool { return r.bypassEnabled }

// Matchers returns the matchers in evaluation order.
func (r *Rule) Matchers() []ValueMatcher {
	return slices.Clone(r.matchers)
}

// RequiredVariables returns the distinct matcher variables in matcher order.
func (r *Rule) RequiredVariables() []Variable {
	vars := make([]Variable, 0, len(r.matchers))
	for _, m := range r.matchers {
		if !slices.Contains(vars, m.variable) {
			vars = append(vars, m.variable)
		}
	}
	return vars
}

// RequiredVariableKeys returns the keys of the required variables, sorted.
func (r *Rule) RequiredVariableKeys() []string {
	vars := r.RequiredVariables()
	keys := make([]string, len(vars))
	for i, v := range vars {
		keys[i] = v.Key()
	}
	sort.Strings(keys)
	return keys
}

// Apply returns the rule's summand for coefficient and values. A rule that does
// not match, or is bypassed because of missing values, contributes 0.
func (r *Rule) Apply(coefficient float32, values ValueSet) (float32, error) {
	out, err := r.Evaluate(coefficient, values)
	if err != nil {
		return 0, err
	}
	return out.Summand, nil
}

// Evaluate is Apply with the reason for the summand.
//
// All matcher variables are checked for presence before any condition runs. If
// some are missing the rule is bypassed when bypass is enabled, and otherwise
// fails with a MissingValuesError naming all of them. Conditions are then
// evaluated in order, each seeing the values matched so far; the first false
// condition stops evaluation.
func (r *Rule) Evaluate(coefficient float32, values ValueSet) (RuleOutcome, error) {
	var missing []Variable
	for _, m := range r.matchers {
		if _, ok := values[m.variable]; !ok && !slices.Contains(missing, m.variable) {
			missing = append(missing, m.variable)
		}
	}
	if len(missing) > 0 {
		if r.bypassEnabled {
			return RuleOutcome{Status: StatusBypassed, Missing: missing}, nil
		}
		return RuleOutcome{}, newMissingValuesError(missing...)
	}

	bindings := make(expr.Bindings, len(r.matchers)+1)
	for i, m := range r.matchers {
		datum := values[m.variable].Datum()
		bindings[m.variable.Key()] = datum

		prg := r.conditions[i]
		if prg == nil {
			continue
		}

		ok, err := prg.EvalBool(conditionBindings(bindings, datum))
		if err != nil {
			return RuleOutcome{}, &RuleEvaluationError{Rule: r.displayName, Err: err}
		}
		if !ok {
			return RuleOutcome{Status: StatusNotMatched}, nil
		}
	}

	bindings[BindingCoefficient] = coefficient
	summand, err := r.formula.EvalNumber(bindings)
	if err != nil {
		return RuleOutcome{}, &RuleEvaluationError{Rule: r.displayName, Err: err}
	}
	return RuleOutcome{Status: StatusFired, Summand: summand}, nil
}

// conditionBindings adds "this" and the fields of the current datum to the
// matched values. Matched keys take precedence over field names.
func conditionBindings(matched expr.Bindings, datum any) expr.Bindings {
	b := make(expr.Bindings, len(matched)+8)
	if fields, ok := datum.(map[string]any); ok {
		for name, v := range fields {
			if name != BindingCoefficient {
				b[name] = v
			}
		}
	}
	for k, v := range matched {
		b[k] = v
	}
	b[BindingThis] = datum
	return b
}

// Equal reports whether r and other have the same name, matchers and summand.
// The bypass policy only decides what happens when inputs are missing and
// takes no part in identity.
func (r *Rule) Equal(other *Rule) bool {
	if r == other {
		return true
	}
	if other == nil || r.displayName != other.displayName ||
		r.Summand() != other.Summand() || len(r.matchers) != len(other.matchers) {
		return false
	}
	for i := range r.matchers {
		if !r.matchers[i].equal(other.matchers[i]) {
			return false
		}
	}
	return true
}

func (r *Rule) String() string {
	return fmt.Sprintf("Rule %q: %v => %s", r.displayName, r.matchers, r.summand.Text())
}
