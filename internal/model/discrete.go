package model

import (
	"fmt"
	"slices"
)

// Category is a labelled sub-range of a DiscreteNumericalVariable.
type Category struct {
	Range NumericalRange
	Label string
}

func (c Category) String() string {
	return c.Label + " " + c.Range.String()
}

// DiscreteNumericalVariable accepts either a number, which is placed in one of
// its categories, or a category chosen directly.
type DiscreteNumericalVariable struct {
	variableBase
	rng        NumericalRange
	units      string
	categories []Category
}

// NewDiscreteNumericalVariable validates the range and categories. Categories
// must have unique labels and partition rng: together they cover it exactly,
// and adjacent categories share a bound that exactly one of them includes.
// They are stored sorted by range.
func NewDiscreteNumericalVariable(info VariableInfo, rng NumericalRange, units string, categories []Category) (*DiscreteNumericalVariable, error) {
	base, err := newVariableBase(info)
	if err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, fmt.Errorf("variable %s: %w", info.Key, err)
	}
	if len(categories) == 0 {
		return nil, &InvalidCategoriesError{VariableKey: info.Key, Reason: "at least one category is required"}
	}

	sorted := slices.Clone(categories)
	slices.SortStableFunc(sorted, func(a, b Category) int { return a.Range.Compare(b.Range) })

	labels := make(map[string]bool, len(sorted))
	for i, c := range sorted {
		if err := validateDisplayName("category label", c.Label); err != nil {
			return nil, err
		}
		if labels[c.Label] {
			return nil, &InvalidCategoriesError{VariableKey: info.Key, Reason: fmt.Sprintf("duplicate label %q", c.Label)}
		}
		labels[c.Label] = true

		if err := c.Range.Validate(); err != nil {
			return nil, &InvalidCategoriesError{VariableKey: info.Key, Reason: fmt.Sprintf("category %q: %v", c.Label, err)}
		}
		if !rng.Contains(c.Range) {
			return nil, &InvalidCategoriesError{VariableKey: info.Key, Reason: fmt.Sprintf("category %q %s is outside %s", c.Label, c.Range, rng)}
		}
		if i > 0 && sorted[i-1].Range.Overlaps(c.Range) {
			return nil, &InvalidCategoriesError{VariableKey: info.Key, Reason: fmt.Sprintf("categories %q and %q overlap", sorted[i-1].Label, c.Label)}
		}
	}

	if err := checkPartition(info.Key, rng, sorted); err != nil {
		return nil, err
	}

	return &DiscreteNumericalVariable{
		variableBase: base,
		rng:          rng,
		units:        units,
		categories:   sorted,
	}, nil
}

// checkPartition reports the first place where sorted, non-overlapping
// categories leave part of rng uncovered.
func checkPartition(key string, rng NumericalRange, sorted []Category) error {
	first, last := sorted[0], sorted[len(sorted)-1]
	if first.Range.LowerBound() != rng.LowerBound() || first.Range.LowerInclusive() != rng.LowerInclusive() {
		return &InvalidCategoriesError{VariableKey: key, Reason: fmt.Sprintf("category %q %s does not start where %s does", first.Label, first.Range, rng)}
	}
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		if prev.Range.UpperBound() != next.Range.LowerBound() || prev.Range.UpperInclusive() == next.Range.LowerInclusive() {
			return &InvalidCategoriesError{VariableKey: key, Reason: fmt.Sprintf("gap between categories %q and %q", prev.Label, next.Label)}
		}
	}
	if last.Range.UpperBound() != rng.UpperBound() || last.Range.UpperInclusive() != rng.UpperInclusive() {
		return &InvalidCategoriesError{VariableKey: key, Reason: fmt.Sprintf("category %q %s does not end where %s does", last.Label, last.Range, rng)}
	}
	return nil
}

func (v *DiscreteNumericalVariable) Kind() Kind            { return KindDiscreteNumerical }
func (v *DiscreteNumericalVariable) Range() NumericalRange { return v.rng }
func (v *DiscreteNumericalVariable) Units() string         { return v.units }

// Categories returns the categories sorted by range.
func (v *DiscreteNumericalVariable) Categories() []Category {
	return slices.Clone(v.categories)
}

// MakeValue checks x against the overall range and then places it in its
// category. Since the categories partition the range, the
// ValueOutOfCategoriesError fallback is unreachable for values that pass the
// range check.
func (v *DiscreteNumericalVariable) MakeValue(x float32) (DiscreteNumericalValue, error) {
	if _, err := v.rng.CheckValue(x); err != nil {
		return DiscreteNumericalValue{}, err
	}
	for _, c := range v.categories {
		if c.Range.IsValueInRange(x) {
			return DiscreteNumericalValue{variable: v, category: c, number: x, numeric: true}, nil
		}
	}
	return DiscreteNumericalValue{}, &ValueOutOfCategoriesError{VariableKey: v.Key(), Value: x}
}

// MakeCategoryValue selects the category labelled label.
func (v *DiscreteNumericalVariable) MakeCategoryValue(label string) (DiscreteNumericalValue, error) {
	for _, c := range v.categories {
		if c.Label == label {
			return DiscreteNumericalValue{variable: v, category: c}, nil
		}
	}
	return DiscreteNumericalValue{}, &InvalidOptionError{VariableKey: v.Key(), Option: label}
}

// DiscreteNumericalValue is a category of a DiscreteNumericalVariable, together
// with the number that selected it when one was entered.
type DiscreteNumericalValue struct {
	variable *DiscreteNumericalVariable
	category Category
	number   float32
	numeric  bool
}

func (v DiscreteNumericalValue) Variable() Variable { return v.variable }
func (v DiscreteNumericalValue) Kind() Kind         { return KindDiscreteNumerical }
func (v DiscreteNumericalValue) Category() Category { return v.category }
func (v DiscreteNumericalValue) String() string     { return valueString(v) }
func (v DiscreteNumericalValue) sealedValue()       {}

// Number returns the entered number and whether there was one.
func (v DiscreteNumericalValue) Number() (float32, bool) {
	return v.number, v.numeric
}

// Datum binds as {category, value}; value is present only when a number was
// entered.
func (v DiscreteNumericalValue) Datum() any {
	d := map[string]any{"category": v.category.Label}
	if v.numeric {
		d["value"] = v.number
	}
	return d
}

func (v DiscreteNumericalValue) DisplayString() string {
	if v.numeric {
		return formatFloat(v.number) + " (" + v.category.Label + ")"
	}
	return v.category.Label
}
