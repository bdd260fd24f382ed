package model

import (
	"cmp"
	"math"
	"strconv"
)

// RangeMax is the largest magnitude a range bound may have. Bounds beyond it are
// clamped.
const RangeMax float32 = 1e12

// NumericalRange is an interval whose ends are independently inclusive or
// exclusive.
type NumericalRange struct {
	lower          float32
	lowerInclusive bool
	upper          float32
	upperInclusive bool
}

// NewNumericalRange builds a range, clamping both bounds into [-RangeMax, RangeMax].
func NewNumericalRange(lower float32, lowerInclusive bool, upper float32, upperInclusive bool) (NumericalRange, error) {
	if isNaN(lower) || isNaN(upper) {
		return NumericalRange{}, &InvalidRangeError{Lower: lower, Upper: upper, Reason: "bounds must be numbers"}
	}

	return NumericalRange{
		lower:          clampBound(lower),
		lowerInclusive: lowerInclusive,
		upper:          clampBound(upper),
		upperInclusive: upperInclusive,
	}, nil
}

// MustNumericalRange is like NewNumericalRange but panics on error.
func MustNumericalRange(lower float32, lowerInclusive bool, upper float32, upperInclusive bool) NumericalRange {
	r, err := NewNumericalRange(lower, lowerInclusive, upper, upperInclusive)
	if err != nil {
		panic(err)
	}
	return r
}

func clampBound(v float32) float32 {
	return min(max(v, -RangeMax), RangeMax)
}

func isNaN(v float32) bool {
	return math.IsNaN(float64(v))
}

func (r NumericalRange) LowerBound() float32  { return r.lower }
func (r NumericalRange) LowerInclusive() bool { return r.lowerInclusive }
func (r NumericalRange) UpperBound() float32  { return r.upper }
func (r NumericalRange) UpperInclusive() bool { return r.upperInclusive }

func (r NumericalRange) aboveLower(x float32) bool {
	if r.lowerInclusive {
		return x >= r.lower
	}
	return x > r.lower
}

func (r NumericalRange) belowUpper(x float32) bool {
	if r.upperInclusive {
		return x <= r.upper
	}
	return x < r.upper
}

// IsValueInRange reports whether x satisfies both bounds.
func (r NumericalRange) IsValueInRange(x float32) bool {
	return r.aboveLower(x) && r.belowUpper(x)
}

// CheckValue returns x unchanged when it is in range. Otherwise it returns a
// ValueTooLowError or ValueTooHighError; the lower bound is checked first.
func (r NumericalRange) CheckValue(x float32) (float32, error) {
	if !r.aboveLower(x) {
		return x, &ValueTooLowError{Value: x, Bound: r.lower, Kind: boundKind(r.lowerInclusive)}
	}
	if !r.belowUpper(x) {
		return x, &ValueTooHighError{Value: x, Bound: r.upper, Kind: boundKind(r.upperInclusive)}
	}
	return x, nil
}

func boundKind(inclusive bool) BoundKind {
	if inclusive {
		return BoundInclusive
	}
	return BoundExclusive
}

// Validate reports an error when the range is empty.
func (r NumericalRange) Validate() error {
	if r.lower > r.upper || (r.lower == r.upper && !(r.lowerInclusive && r.upperInclusive)) {
		return &InvalidRangeError{Lower: r.lower, Upper: r.upper, Reason: "range is empty"}
	}
	return nil
}

// Compare orders ranges by lower bound, then by upper bound.
func (r NumericalRange) Compare(other NumericalRange) int {
	if c := cmp.Compare(r.lower, other.lower); c != 0 {
		return c
	}
	return cmp.Compare(r.upper, other.upper)
}

// Overlaps reports whether some value lies in both ranges.
func (r NumericalRange) Overlaps(other NumericalRange) bool {
	first, second := r, other
	if first.Compare(second) > 0 {
		first, second = second, first
	}

	if second.lower < first.upper {
		return true
	}
	return second.lower == first.upper && first.upperInclusive && second.lowerInclusive
}

// Contains reports whether every value of other is also in r.
func (r NumericalRange) Contains(other NumericalRange) bool {
	lowerOK := r.lower < other.lower || (r.lower == other.lower && (r.lowerInclusive || !other.lowerInclusive))
	upperOK := r.upper > other.upper || (r.upper == other.upper && (r.upperInclusive || !other.upperInclusive))
	return lowerOK && upperOK
}

// String renders the range in interval notation, e.g. "[0, 100)".
func (r NumericalRange) String() string {
	left, right := "(", ")"
	if r.lowerInclusive {
		left = "["
	}
	if r.upperInclusive {
		right = "]"
	}
	return left + formatFloat(r.lower) + ", " + formatFloat(r.upper) + right
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}
