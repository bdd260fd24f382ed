// Package calculation turns submitted form inputs into risk model results and
// manages their lifecycle: caching, persistence, signing and events.
package calculation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-clinical/riskcalc/internal/model"
)

// InputErrors collects per-variable problems found while parsing inputs.
type InputErrors struct {
	Errors map[string]string
}

func (e *InputErrors) Error() string {
	keys := e.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Errors[k]
	}
	return "invalid inputs: " + strings.Join(parts, "; ")
}

// Keys returns the keys with errors, sorted.
func (e *InputErrors) Keys() []string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *InputErrors) add(key string, err error) {
	if e.Errors == nil {
		e.Errors = make(map[string]string)
	}
	e.Errors[key] = err.Error()
}

var (
	errNotNumber  = errors.New("must be a number")
	errNotBoolean = errors.New("must be true, false, yes or no")
	errUnknownKey = errors.New("is not an input of this calculation")
)

// ParseValue converts a raw submitted string into a value of v.
func ParseValue(v model.Variable, raw string) (model.Value, error) {
	raw = strings.TrimSpace(raw)

	switch v := v.(type) {
	case *model.NumericalVariable:
		x, err := parseNumber(raw)
		if err != nil {
			return nil, err
		}
		return v.MakeValue(x)
	case *model.BooleanVariable:
		b, err := parseBool(raw)
		if err != nil {
			return nil, err
		}
		return v.MakeValue(b), nil
	case *model.MultiSelectVariable:
		return v.MakeValue(raw)
	case *model.ProcedureVariable:
		return v.MakeValue(raw)
	case *model.DiscreteNumericalVariable:
		if x, err := parseNumber(raw); err == nil {
			return v.MakeValue(x)
		}
		return v.MakeCategoryValue(raw)
	default:
		return nil, fmt.Errorf("unsupported variable type %T", v)
	}
}

func parseNumber(raw string) (float32, error) {
	f, err := strconv.ParseFloat(raw, 32)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumber
	}
	return float32(f), nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	}
	return false, errNotBoolean
}

// ParseValues parses inputs, keyed by variable key, against vars. Blank inputs
// are skipped so that the models report them as missing. Every problem is
// collected into a single *InputErrors.
func ParseValues(vars []model.Variable, inputs map[string]string) ([]model.Value, error) {
	byKey := make(map[string]model.Variable, len(vars))
	for _, v := range vars {
		byKey[v.Key()] = v
	}

	var (
		values []model.Value
		errs   InputErrors
	)
	for _, v := range vars {
		raw, ok := inputs[v.Key()]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		val, err := ParseValue(v, raw)
		if err != nil {
			errs.add(v.Key(), err)
			continue
		}
		values = append(values, val)
	}
	for key := range inputs {
		if _, ok := byKey[key]; !ok {
			errs.add(key, errUnknownKey)
		}
	}

	if len(errs.Errors) > 0 {
		return nil, &errs
	}
	return values, nil
}
