package shapeinference

import (
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
)

// ValueRangeOf returns the per-element value range of an integer desc: exact ranges if its value is
// known, else its ValueRange, else nil. Negative constant values have no range.
func ValueRangeOf(desc tensordesc.Desc) shapes.Range {
	if desc.Value != nil {
		values, err := desc.Value.Ints()
		if err != nil {
			return nil
		}
		rng := make(shapes.Range, len(values))
		for ii, v := range values {
			if v < 0 {
				return nil
			}
			rng[ii] = shapes.Exact(v)
		}
		return rng
	}
	return desc.ValueRange.Clone()
}

// CombineValueRanges returns the value range of an element-wise binary operation on values bounded by
// lhs and rhs. Bounds are non-negative and Unbounded upper bounds stay unbounded.
// It returns false for operations without a range formula.
func CombineValueRanges(opType optypes.OpType, lhs, rhs shapes.DimRange) (shapes.DimRange, bool) {
	unbounded := lhs.IsUnbounded() || rhs.IsUnbounded()
	switch opType {
	case optypes.Add:
		out := shapes.DimRange{Min: lhs.Min + rhs.Min, Max: shapes.Unbounded}
		if !unbounded {
			out.Max = lhs.Max + rhs.Max
		}
		return out, true
	case optypes.Mul:
		out := shapes.DimRange{Min: lhs.Min * rhs.Min, Max: shapes.Unbounded}
		if !unbounded {
			out.Max = lhs.Max * rhs.Max
		} else if (!lhs.IsUnbounded() && lhs.Max == 0) || (!rhs.IsUnbounded() && rhs.Max == 0) {
			out.Max = 0
		}
		return out, true
	case optypes.Maximum:
		return shapes.DimRange{Min: max(lhs.Min, rhs.Min), Max: shapes.MaxBound(lhs.Max, rhs.Max)}, true
	case optypes.Minimum:
		return shapes.DimRange{Min: min(lhs.Min, rhs.Min), Max: shapes.MinBound(lhs.Max, rhs.Max)}, true
	}
	return shapes.DimRange{}, false
}

// binaryValueRange propagates the value ranges of both operands, when both are known and their
// number of elements match (or one of them is a single element).
func binaryValueRange(opType optypes.OpType, lhs, rhs tensordesc.Desc, output shapes.Shape) shapes.Range {
	if lhs.DType().IsFloat() || output.IsDynamic() {
		return nil
	}
	lhsRange, rhsRange := ValueRangeOf(lhs), ValueRangeOf(rhs)
	if len(lhsRange) == 0 || len(rhsRange) == 0 {
		return nil
	}
	n := max(len(lhsRange), len(rhsRange))
	if (len(lhsRange) != n && len(lhsRange) != 1) || (len(rhsRange) != n && len(rhsRange) != 1) || n != output.Size() {
		return nil
	}
	out := make(shapes.Range, n)
	for ii := range n {
		l, r := lhsRange[min(ii, len(lhsRange)-1)], rhsRange[min(ii, len(rhsRange)-1)]
		var ok bool
		if out[ii], ok = CombineValueRanges(opType, l, r); !ok {
			return nil
		}
	}
	return out
}
