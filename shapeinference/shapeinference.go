// Package shapeinference calculates the output tensor descriptors of operators from their input
// descriptors and attributes, and validates its inputs.
//
// Besides the shape and dtype, it propagates the symbolic information: UnknownDim (-1) dimensions,
// shapes of UnknownRank (-2), the shape range of each dynamic dimension and, for small integer
// tensors like the output of Shape, their known values or value ranges.
//
// It defines a BinaryOp function for shape inference for the majority of binary functions, using the standard
// broadcasting rules, and an UnaryOp for the operations that don't change the shape.
//
// For the remainder operations, each one gets its own shape inference function.
//
// Output descs never alias the inputs: slices are always copied.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// checkDType validates the dtype of an operand against the category sets of the operation.
func checkDType(opType optypes.OpType, operand tensordesc.Desc) error {
	dtype := operand.DType()
	if dtype == dtypes.InvalidDType {
		return errors.Errorf("invalid dtype for operand %s of %s", operand.Shape, opType)
	}
	if optypes.Logical.Has(opType) && dtype != dtypes.Bool {
		return errors.Errorf("logical %s must have boolean (dtypes.Bool) data types as input, got %s", opType, operand.Shape)
	}
	if optypes.FloatOnly.Has(opType) && !dtype.IsFloat() {
		return errors.Errorf("float %s must have a float (Float32, Float16, ...) data type as input, got %s", opType, operand.Shape)
	}
	if !optypes.Logical.Has(opType) && !optypes.Comparison.Has(opType) && dtype == dtypes.Bool {
		return errors.Errorf("numeric %s must have a number (Int32, Float32, ...) data type as input, got %s", opType, operand.Shape)
	}
	if opType == optypes.Neg && dtype.IsUnsigned() {
		return errors.Errorf("signed %s must have a signed data type as input, got %s", opType, operand.Shape)
	}
	return nil
}

// newOutput creates an output desc with the given shape and range, dropping the range unless the
// shape has dynamic dimensions. Format is inherited from the reference desc.
func newOutput(reference tensordesc.Desc, shape shapes.Shape, rng shapes.Range) tensordesc.Desc {
	output := tensordesc.New(shape)
	output.Format, output.OriginFormat = reference.Format, reference.OriginFormat
	if !shape.IsUnknownRank() && shape.IsDynamic() && len(rng) == shape.Rank() {
		output.ShapeRange = rng.Clone()
	}
	return output
}

// BinaryOp returns the expected output desc for ops in the optypes.BinaryBroadcast set, using the
// standard broadcasting rules (aligned from the trailing axes).
//
// It returns an error if the data type is invalid for the operation -- e.g.: non-matching
// dtypes, or LogicalAnd not having booleans (dtypes.Bool) as input.
//
// If either operand has unknown rank, the output has unknown rank and no range.
func BinaryOp(opType optypes.OpType, lhs, rhs tensordesc.Desc) (output tensordesc.Desc, err error) {
	if !optypes.BinaryBroadcast.Has(opType) {
		err = errors.Errorf("operation %s is not in the BinaryBroadcast set, cannot process it with BinaryOp", opType)
		return
	}
	if lhs.DType() != rhs.DType() {
		err = errors.Errorf("data types (DType) for %s must match, got %s and %s", opType, lhs.Shape, rhs.Shape)
		return
	}
	if err = checkDType(opType, lhs); err != nil {
		return
	}
	shape, rng, err := Broadcast(lhs.Shape, lhs.Range(), rhs.Shape, rhs.Range())
	if err != nil {
		err = errors.WithMessagef(err, "%s(%s, %s)", opType, lhs.Shape, rhs.Shape)
		return
	}
	if optypes.Comparison.Has(opType) {
		shape.DType = dtypes.Bool
	}
	reference := lhs
	if lhs.Shape.Rank() < rhs.Shape.Rank() {
		reference = rhs
	}
	output = newOutput(reference, shape, rng)
	output.ValueRange = binaryValueRange(opType, lhs, rhs, shape)
	return
}

// Broadcast returns the broadcast shape of two operands (dtype taken from lhs), and the range of each
// of its dimensions. The ranges given must be complete (see shapes.RangeOrDefault).
//
// The rules for each aligned axis are:
//   - Concrete and equal dimensions: exact.
//   - One side is 1: the dimension and range of the other side.
//   - One side concrete, the other unknown: the concrete one, if the unknown one's range allows it.
//   - Both unknown: unknown, with the range of all values feasible at runtime (see broadcastRange).
func Broadcast(lhs shapes.Shape, lhsRange shapes.Range, rhs shapes.Shape, rhsRange shapes.Range) (
	output shapes.Shape, outputRange shapes.Range, err error) {
	if lhs.IsUnknownRank() || rhs.IsUnknownRank() {
		return shapes.MakeUnknownRank(lhs.DType), nil, nil
	}
	rank := max(lhs.Rank(), rhs.Rank())
	if rank == 0 {
		return shapes.Make(lhs.DType), nil, nil
	}
	output = shapes.Shape{DType: lhs.DType, Dimensions: make([]int, rank)}
	outputRange = make(shapes.Range, rank)
	lhsOffset, rhsOffset := rank-lhs.Rank(), rank-rhs.Rank()
	for axis := range rank {
		lhsDim, lhsDimRange := 1, shapes.Exact(1)
		if axis >= lhsOffset {
			lhsDim, lhsDimRange = lhs.Dimensions[axis-lhsOffset], lhsRange[axis-lhsOffset]
		}
		rhsDim, rhsDimRange := 1, shapes.Exact(1)
		if axis >= rhsOffset {
			rhsDim, rhsDimRange = rhs.Dimensions[axis-rhsOffset], rhsRange[axis-rhsOffset]
		}
		switch {
		case lhsDim == rhsDim && lhsDim != shapes.UnknownDim:
			output.Dimensions[axis], outputRange[axis] = lhsDim, shapes.Exact(lhsDim)
		case lhsDim == 1:
			output.Dimensions[axis], outputRange[axis] = rhsDim, rhsDimRange
		case rhsDim == 1:
			output.Dimensions[axis], outputRange[axis] = lhsDim, lhsDimRange
		case lhsDim == shapes.UnknownDim && rhsDim == shapes.UnknownDim:
			output.Dimensions[axis] = shapes.UnknownDim
			var ok bool
			outputRange[axis], ok = broadcastRange(lhsDimRange, rhsDimRange)
			if !ok {
				err = errors.Errorf("ranges %s and %s of axis #%d cannot be broadcast", lhsDimRange, rhsDimRange, axis)
				return
			}
		case lhsDim == shapes.UnknownDim:
			if !lhsDimRange.Contains(rhsDim) && !lhsDimRange.Contains(1) {
				err = errors.Errorf("dimension %d of axis #%d is out of the range %s of the other operand", rhsDim, axis, lhsDimRange)
				return
			}
			output.Dimensions[axis], outputRange[axis] = rhsDim, shapes.Exact(rhsDim)
		case rhsDim == shapes.UnknownDim:
			if !rhsDimRange.Contains(lhsDim) && !rhsDimRange.Contains(1) {
				err = errors.Errorf("dimension %d of axis #%d is out of the range %s of the other operand", lhsDim, axis, rhsDimRange)
				return
			}
			output.Dimensions[axis], outputRange[axis] = lhsDim, shapes.Exact(lhsDim)
		default:
			err = errors.Errorf("dimension of axis #%d doesn't match and cannot be broadcast, got shapes %s and %s",
				axis, lhs, rhs)
			return
		}
	}
	return
}

// broadcastRange combines the ranges of two unknown dimensions being broadcast.
//
// The output can take any value in the intersection of both ranges, and any value of one side if the
// other side can be 1. The lower bound is the smallest feasible value, the upper bound the largest,
// where unbounded dominates. It returns false if no value is feasible.
func broadcastRange(lhs, rhs shapes.DimRange) (shapes.DimRange, bool) {
	var candidates []shapes.DimRange
	if inter, ok := lhs.Intersect(rhs); ok {
		candidates = append(candidates, inter)
	}
	if lhs.Contains(1) {
		candidates = append(candidates, rhs)
	}
	if rhs.Contains(1) {
		candidates = append(candidates, lhs)
	}
	if len(candidates) == 0 {
		return shapes.DimRange{}, false
	}
	out := candidates[0]
	for _, c := range candidates[1:] {
		out = out.Union(c)
	}
	return out, true
}

// UnaryOp checks the validity of the data type for optypes.UnaryElementwise ops and returns either an error or
// the output desc, which has the same shape and range as the operand.
func UnaryOp(opType optypes.OpType, operand tensordesc.Desc) (output tensordesc.Desc, err error) {
	if !optypes.UnaryElementwise.Has(opType) {
		err = errors.Errorf("operation %s is not in the UnaryElementwise set, cannot process it with UnaryOp", opType)
		return
	}
	if err = checkDType(opType, operand); err != nil {
		return
	}
	output = newOutput(operand, operand.Shape, operand.Range())
	if opType == optypes.Relu || opType == optypes.Abs {
		// Non-negative values: the value range is kept when it is already non-negative.
		output.ValueRange = operand.ValueRange.Clone()
	}
	return
}

// Identity returns a copy of the operand, including its value and value range.
func Identity(operand tensordesc.Desc) tensordesc.Desc {
	return operand.Clone()
}

// Cast returns the operand desc with the dtype replaced.
func Cast(operand tensordesc.Desc, dtype dtypes.DType) (output tensordesc.Desc, err error) {
	if dtype == dtypes.InvalidDType {
		return output, errors.Errorf("Cast(%s): invalid target dtype", operand.Shape)
	}
	output = newOutput(operand, operand.Shape.WithDType(dtype), operand.Range())
	if dtype.IsInt() {
		output.ValueRange = operand.ValueRange.Clone()
	}
	return
}

// AddN returns the output of the sum of all inputs, which must have the same dtype and compatible shapes.
// Unknown dimensions are resolved from any input where they are known; ranges are intersected.
func AddN(inputs []tensordesc.Desc) (output tensordesc.Desc, err error) {
	if len(inputs) == 0 {
		return output, errors.New("AddN requires at least one input")
	}
	merged := inputs[0].Shape.Clone()
	mergedRange := inputs[0].Range()
	if err = checkDType(optypes.AddN, inputs[0]); err != nil {
		return
	}
	for ii, input := range inputs[1:] {
		if input.DType() != merged.DType {
			return output, errors.Errorf("AddN: input #%d has dtype %s, but input #0 has dtype %s", ii+1, input.DType(), merged.DType)
		}
		if !merged.Compatible(input.Shape) {
			return output, errors.Errorf("AddN: input #%d has shape %s incompatible with %s", ii+1, input.Shape, merged)
		}
		if input.Shape.IsUnknownRank() {
			continue
		}
		if merged.IsUnknownRank() {
			merged, mergedRange = input.Shape.Clone(), input.Range()
			continue
		}
		inputRange := input.Range()
		for axis, dim := range input.Shape.Dimensions {
			if merged.Dimensions[axis] == shapes.UnknownDim {
				merged.Dimensions[axis] = dim
			}
			r, ok := mergedRange[axis].Intersect(inputRange[axis])
			if !ok {
				return output, errors.Errorf("AddN: range of axis #%d of input #%d (%s) doesn't overlap with %s",
					axis, ii+1, inputRange[axis], mergedRange[axis])
			}
			mergedRange[axis] = r
		}
	}
	return newOutput(inputs[0], merged, mergedRange), nil
}

// BiasAdd checks that the bias is a vector matching the channel dimension of x for the given format,
// and returns the shape of x.
func BiasAdd(x, bias tensordesc.Desc, format types.Format) (output tensordesc.Desc, err error) {
	if x.DType() != bias.DType() {
		return output, errors.Errorf("BiasAdd: x %s and bias %s must have the same dtype", x.Shape, bias.Shape)
	}
	if bias.Shape.IsUnknownRank() || x.Shape.IsUnknownRank() {
		return newOutput(x, x.Shape, x.Range()), nil
	}
	if bias.Shape.Rank() != 1 {
		return output, errors.Errorf("BiasAdd: bias must be rank-1, got %s", bias.Shape)
	}
	if x.Shape.Rank() < 2 {
		return output, errors.Errorf("BiasAdd: x must be at least rank-2, got %s", x.Shape)
	}
	channelAxis := x.Shape.Rank() - 1
	if format == types.FormatNCHW || format == types.FormatNCDHW {
		channelAxis = 1
	}
	channels, biasDim := x.Shape.Dimensions[channelAxis], bias.Shape.Dimensions[0]
	if channels != shapes.UnknownDim && biasDim != shapes.UnknownDim && channels != biasDim {
		return output, errors.Errorf("BiasAdd: bias dimension %d doesn't match channels dimension %d of x %s (format %s)",
			biasDim, channels, x.Shape, format)
	}
	outShape := x.Shape.Clone()
	rng := x.Range()
	if channels == shapes.UnknownDim && biasDim != shapes.UnknownDim {
		outShape.Dimensions[channelAxis] = biasDim
		rng[channelAxis] = shapes.Exact(biasDim)
	}
	return newOutput(x, outShape, rng), nil
}

// AdjustAxisToRank returns the positive axis to the operand shapes, adjusting in case the axis given is negative.
//
// It returns an error if the axis is out-of-range.
func AdjustAxisToRank(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return -1, errors.Errorf("axis %d is out of range for the rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

// adjustAxes normalizes a list of axes to positive values, failing on out-of-range or duplicate axes.
func adjustAxes(axes []int, rank int) ([]int, error) {
	adjusted := make([]int, len(axes))
	for ii, axis := range axes {
		var err error
		adjusted[ii], err = AdjustAxisToRank(axis, rank)
		if err != nil {
			return nil, errors.WithMessagef(err, "axes[%d]", ii)
		}
		if slices.Contains(adjusted[:ii], adjusted[ii]) {
			return nil, errors.Errorf("duplicate axis %d in %v", axis, axes)
		}
	}
	return adjusted, nil
}
