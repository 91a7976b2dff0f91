package shapes

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Unbounded is the DimRange.Max value for a dimension with no known upper bound.
const Unbounded = -1

// DimRange is the [Min, Max] interval of possible runtime values of one dimension.
// Max == Unbounded means there is no upper bound.
type DimRange struct {
	Min, Max int
}

// Exact returns the range holding only dim.
func Exact(dim int) DimRange { return DimRange{Min: dim, Max: dim} }

// IsUnbounded returns whether the range has no upper bound.
func (r DimRange) IsUnbounded() bool { return r.Max == Unbounded }

// IsExact returns whether the range holds a single value.
func (r DimRange) IsExact() bool { return r.Max != Unbounded && r.Min == r.Max }

// Contains returns whether value is within the range.
func (r DimRange) Contains(value int) bool {
	return value >= r.Min && (r.IsUnbounded() || value <= r.Max)
}

// Check returns an error if the range is malformed.
func (r DimRange) Check() error {
	if r.Min < 0 {
		return errors.Errorf("invalid range %s: lower bound must be >= 0", r)
	}
	if r.Max < Unbounded || (r.Max != Unbounded && r.Max < r.Min) {
		return errors.Errorf("invalid range %s: upper bound must be >= lower bound or %d (unbounded)", r, Unbounded)
	}
	return nil
}

// String implements fmt.Stringer.
func (r DimRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// MaxBound returns the larger of two upper bounds, where Unbounded dominates.
func MaxBound(a, b int) int {
	if a == Unbounded || b == Unbounded {
		return Unbounded
	}
	return max(a, b)
}

// MinBound returns the smaller of two upper bounds, where Unbounded is larger than any value.
func MinBound(a, b int) int {
	if a == Unbounded {
		return b
	}
	if b == Unbounded {
		return a
	}
	return min(a, b)
}

// Intersect returns the intersection of the two ranges and whether it is not empty.
func (r DimRange) Intersect(r2 DimRange) (DimRange, bool) {
	out := DimRange{Min: max(r.Min, r2.Min), Max: MinBound(r.Max, r2.Max)}
	if out.Max != Unbounded && out.Max < out.Min {
		return DimRange{}, false
	}
	return out, true
}

// Union returns the smallest range holding both ranges.
func (r DimRange) Union(r2 DimRange) DimRange {
	return DimRange{Min: min(r.Min, r2.Min), Max: MaxBound(r.Max, r2.Max)}
}

// Range holds one DimRange per axis of a shape of known rank.
// It is empty for shapes of unknown rank, and may be empty for fully static shapes.
type Range []DimRange

// DefaultRange returns the range implied by the shape alone: exact for static dimensions and
// [1, Unbounded] for UnknownDim. It returns nil for shapes of unknown rank.
func DefaultRange(shape Shape) Range {
	if shape.IsUnknownRank() {
		return nil
	}
	rng := make(Range, len(shape.Dimensions))
	for axis, dim := range shape.Dimensions {
		if dim == UnknownDim {
			rng[axis] = DimRange{Min: 1, Max: Unbounded}
		} else {
			rng[axis] = Exact(dim)
		}
	}
	return rng
}

// Check verifies the range is consistent with the shape: its length matches the rank when both are present,
// it is empty for shapes of unknown rank, and the range of every static dimension contains it.
func (rng Range) Check(shape Shape) error {
	if len(rng) == 0 {
		return nil
	}
	if shape.IsUnknownRank() {
		return errors.Errorf("shape %s has unknown rank, but a range %s was given", shape, rng)
	}
	if len(rng) != shape.Rank() {
		return errors.Errorf("range %s has %d axes, but shape %s has rank %d", rng, len(rng), shape, shape.Rank())
	}
	for axis, r := range rng {
		if err := r.Check(); err != nil {
			return errors.WithMessagef(err, "axis #%d of range for shape %s", axis, shape)
		}
		dim := shape.Dimensions[axis]
		if dim != UnknownDim && !r.Contains(dim) {
			return errors.Errorf("range %s of axis #%d doesn't contain static dimension %d of shape %s", r, axis, dim, shape)
		}
	}
	return nil
}

// Clone returns a copy of the range.
func (rng Range) Clone() Range {
	if rng == nil {
		return nil
	}
	return append(Range(nil), rng...)
}

// Equal compares two ranges. A nil range equals an empty one.
func (rng Range) Equal(rng2 Range) bool {
	if len(rng) != len(rng2) {
		return false
	}
	for ii, r := range rng {
		if r != rng2[ii] {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (rng Range) String() string {
	parts := make([]string, len(rng))
	for ii, r := range rng {
		parts[ii] = r.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// RangeOrDefault returns a copy of rng if it is set, otherwise DefaultRange(shape).
func RangeOrDefault(shape Shape, rng Range) Range {
	if len(rng) > 0 && len(rng) == shape.Rank() {
		return rng.Clone()
	}
	return DefaultRange(shape)
}

// Parse converts a list of [min, max] pairs to a Range.
func Parse(pairs [][]int) (Range, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	rng := make(Range, len(pairs))
	for axis, pair := range pairs {
		if len(pair) != 2 {
			return nil, errors.Errorf("range for axis #%d must have 2 values [min, max], got %v", axis, pair)
		}
		rng[axis] = DimRange{Min: pair[0], Max: pair[1]}
		if err := rng[axis].Check(); err != nil {
			return nil, errors.WithMessagef(err, "range for axis #%d", axis)
		}
	}
	return rng, nil
}
