package model

import (
	"strings"

	"github.com/opensource-clinical/riskcalc/internal/expr"
)

// ValueMatcher pairs a variable with the condition its value must satisfy for a
// rule to fire. A disabled matcher, or one without a condition, only requires
// the value to be present.
type ValueMatcher struct {
	variable  Variable
	condition *expr.Expression
	enabled   bool
}

// NewValueMatcher parses condition, failing with an expr.InvalidExpressionError
// if it is malformed. An empty condition is allowed only on a disabled matcher.
func NewValueMatcher(variable Variable, condition string, enabled bool) (ValueMatcher, error) {
	m := ValueMatcher{variable: variable, enabled: enabled}
	if strings.TrimSpace(condition) == "" && !enabled {
		return m, nil
	}

	x, err := expr.Parse(condition)
	if err != nil {
		return ValueMatcher{}, err
	}
	m.condition = x
	return m, nil
}

// MustValueMatcher is like NewValueMatcher but panics on error.
func MustValueMatcher(variable Variable, condition string, enabled bool) ValueMatcher {
	m, err := NewValueMatcher(variable, condition, enabled)
	if err != nil {
		panic(err)
	}
	return m
}

func (m ValueMatcher) Variable() Variable { return m.variable }
func (m ValueMatcher) Enabled() bool      { return m.enabled }

// Condition returns the condition text, or "" if there is none.
func (m ValueMatcher) Condition() string {
	if m.condition == nil {
		return ""
	}
	return m.condition.Text()
}

func (m ValueMatcher) evaluated() bool {
	return m.enabled && m.condition != nil
}

func (m ValueMatcher) equal(other ValueMatcher) bool {
	return m.variable.Key() == other.variable.Key() &&
		m.Condition() == other.Condition() &&
		m.enabled == other.enabled
}

func (m ValueMatcher) String() string {
	if !m.evaluated() {
		return m.variable.Key()
	}
	return m.variable.Key() + ": " + m.condition.Text()
}
