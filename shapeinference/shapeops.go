package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// Transpose all axes of the operand.
// There must be one value in permutation for each axis in the operand.
// The output will have: output.Shape.Dimension[ii] = operand.Shape.Dimension[permutation[i]], and the same for the range.
//
// For an operand of unknown rank, the output has rank len(permutation) with unknown dimensions.
func Transpose(operand tensordesc.Desc, permutation []int) (output tensordesc.Desc, err error) {
	if operand.Shape.IsUnknownRank() {
		if len(permutation) == 0 {
			return newOutput(operand, operand.Shape, nil), nil
		}
		dims := make([]int, len(permutation))
		for ii := range dims {
			dims[ii] = shapes.UnknownDim
		}
		operand = tensordesc.New(shapes.Make(operand.DType(), dims...))
	}
	rank := operand.Shape.Rank()
	if len(permutation) != rank {
		err = errors.Errorf("Transpose() requires all axes permutation to be defined, operand has shape %s, but %d permutation were given",
			operand.Shape, len(permutation))
		return
	}
	if rank == 0 {
		return newOutput(operand, operand.Shape, nil), nil
	}

	// Check permutation axes are within range and unique.
	axesSet := slices.Clone(permutation)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = errors.Errorf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand.Shape)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = errors.Errorf("invalid permutation given to Transpose(%s, %v), there cannot be any repeated axis, each must appear exactly once",
				operand.Shape, permutation)
			return
		}
	}

	outShape := operand.Shape.Clone()
	inputRange := operand.Range()
	outRange := make(shapes.Range, rank)
	for axis := range outShape.Dimensions {
		srcAxis := permutation[axis]
		outShape.Dimensions[axis] = operand.Shape.Dimensions[srcAxis]
		outRange[axis] = inputRange[srcAxis]
	}
	return newOutput(operand, outShape, outRange), nil
}

// Reshape returns the output of reshaping operand to the dimensions given by the value of the shape tensor.
//
// In the target dimensions, 0 copies the corresponding dimension of the operand and one -1 may be
// inferred from the size of the operand. When the value of the shape tensor is unknown, its value range
// is used (exact entries become dimensions, the others become UnknownDim bounded by their range), and
// failing that only the length of the shape tensor is used for the rank.
func Reshape(operand, shape tensordesc.Desc) (output tensordesc.Desc, err error) {
	dtype := operand.DType()
	if shape.Value != nil {
		var target []int
		target, err = shape.Value.Ints()
		if err != nil {
			return output, errors.WithMessage(err, "Reshape: shape input")
		}
		return reshapeToDims(operand, target)
	}

	if shape.Shape.IsUnknownRank() || shape.Shape.Rank() != 1 || shape.Shape.Dimensions[0] == shapes.UnknownDim {
		if shape.Shape.Rank() > 1 {
			return output, errors.Errorf("Reshape: shape input must be a vector, got %s", shape.Shape)
		}
		return newOutput(operand, shapes.MakeUnknownRank(dtype), nil), nil
	}
	rank := shape.Shape.Dimensions[0]
	dims := make([]int, rank)
	rng := make(shapes.Range, rank)
	valueRange := shape.ValueRange
	if len(valueRange) != rank {
		valueRange = nil
	}
	for axis := range dims {
		dims[axis], rng[axis] = shapes.UnknownDim, shapes.DimRange{Min: 0, Max: shapes.Unbounded}
		if valueRange != nil {
			if valueRange[axis].IsExact() {
				dims[axis] = valueRange[axis].Min
				rng[axis] = valueRange[axis]
			} else {
				rng[axis] = valueRange[axis]
			}
		}
	}
	return newOutput(operand, shapes.Make(dtype, dims...), rng), nil
}

func reshapeToDims(operand tensordesc.Desc, target []int) (output tensordesc.Desc, err error) {
	dims := slices.Clone(target)
	inferAxis := -1
	for axis, dim := range dims {
		switch {
		case dim == 0:
			if operand.Shape.IsUnknownRank() || axis >= operand.Shape.Rank() {
				return output, errors.Errorf("Reshape(%s, %v): cannot copy dimension of axis %d", operand.Shape, target, axis)
			}
			dims[axis] = operand.Shape.Dimensions[axis]
		case dim == -1:
			if inferAxis >= 0 {
				return output, errors.Errorf("Reshape(%s, %v): only one dimension can be inferred (-1)", operand.Shape, target)
			}
			inferAxis = axis
		case dim < -1:
			return output, errors.Errorf("Reshape(%s, %v): invalid dimension %d", operand.Shape, target, dim)
		}
	}
	outShape := shapes.Shape{DType: operand.DType(), Dimensions: dims}
	if operand.Shape.IsStatic() {
		size := operand.Shape.Size()
		known := 1
		for axis, dim := range dims {
			if axis != inferAxis {
				known *= dim
			}
		}
		if inferAxis >= 0 {
			if known == 0 || size%known != 0 {
				return output, errors.Errorf("Reshape(%s, %v): cannot infer dimension, size %d is not divisible by %d",
					operand.Shape, target, size, known)
			}
			outShape.Dimensions[inferAxis] = size / known
		} else if known != size && !outShape.IsDynamic() {
			return output, errors.Errorf("Reshape(%s, %v): sizes don't match (%d != %d)", operand.Shape, target, size, known)
		}
	}
	output = newOutput(operand, outShape, shapes.DefaultRange(outShape))
	if operand.Value != nil && outShape.IsStatic() {
		output.Value, err = reshapeLiteral(operand.Value, outShape.Dimensions)
	}
	return
}

func reshapeLiteral(l *literal.Literal, dims []int) (*literal.Literal, error) {
	switch flat := l.Flat().(type) {
	case []int32:
		return literal.FromFlat(flat, dims...)
	case []int64:
		return literal.FromFlat(flat, dims...)
	}
	return nil, nil
}

// ShapeOf returns the output of the Shape operator: a vector with the dimensions of the operand, of the given
// integer dtype. For static operands the value is known; for dynamic ones the value range is the shape range.
func ShapeOf(operand tensordesc.Desc, dtype dtypes.DType) (output tensordesc.Desc, err error) {
	if dtype != dtypes.Int32 && dtype != dtypes.Int64 {
		return output, errors.Errorf("Shape: output dtype must be Int32 or Int64, got %s", dtype)
	}
	if operand.Shape.IsUnknownRank() {
		output = tensordesc.Make(dtype, shapes.UnknownDim)
		output.ShapeRange = shapes.Range{{Min: 0, Max: shapes.Unbounded}}
		return
	}
	rank := operand.Shape.Rank()
	output = tensordesc.Make(dtype, rank)
	if operand.Shape.IsStatic() {
		if dtype == dtypes.Int32 {
			values := make([]int32, rank)
			for ii, dim := range operand.Shape.Dimensions {
				values[ii] = int32(dim)
			}
			output.Value, err = literal.FromFlat(values, rank)
		} else {
			values := make([]int64, rank)
			for ii, dim := range operand.Shape.Dimensions {
				values[ii] = int64(dim)
			}
			output.Value, err = literal.FromFlat(values, rank)
		}
		return
	}
	output.ValueRange = operand.Range()
	return
}

// Concat returns the output of concatenating inputs along axis: dimensions of the axis are added, all
// others must be compatible. Inputs of unknown rank only contribute their dtype.
func Concat(inputs []tensordesc.Desc, axis int) (output tensordesc.Desc, err error) {
	if len(inputs) == 0 {
		return output, errors.New("Concat requires at least one input")
	}
	dtype := inputs[0].DType()
	var known []tensordesc.Desc
	for ii, input := range inputs {
		if input.DType() != dtype {
			return output, errors.Errorf("mismatched DTypes for Concat: input #0 has %s, input #%d has %s", dtype, ii, input.DType())
		}
		if !input.Shape.IsUnknownRank() {
			known = append(known, input)
		}
	}
	if len(known) == 0 {
		return newOutput(inputs[0], shapes.MakeUnknownRank(dtype), nil), nil
	}
	rank := known[0].Shape.Rank()
	if rank == 0 {
		return output, errors.New("Concat cannot concatenate scalars")
	}
	if axis, err = AdjustAxisToRank(axis, rank); err != nil {
		return output, errors.WithMessage(err, "Concat")
	}
	outShape := known[0].Shape.Clone()
	outRange := known[0].Range()
	for ii, input := range known[1:] {
		if input.Shape.Rank() != rank {
			return output, errors.Errorf("mismatched ranks for Concat: %s and %s", known[0].Shape, input.Shape)
		}
		inputRange := input.Range()
		for d, dim := range input.Shape.Dimensions {
			if d == axis {
				if outShape.Dimensions[d] == shapes.UnknownDim || dim == shapes.UnknownDim {
					outShape.Dimensions[d] = shapes.UnknownDim
				} else {
					outShape.Dimensions[d] += dim
				}
				outRange[d].Min += inputRange[d].Min
				if outRange[d].IsUnbounded() || inputRange[d].IsUnbounded() {
					outRange[d].Max = shapes.Unbounded
				} else {
					outRange[d].Max += inputRange[d].Max
				}
				continue
			}
			if outShape.Dimensions[d] != dim && outShape.Dimensions[d] != shapes.UnknownDim && dim != shapes.UnknownDim {
				return output, errors.Errorf("mismatched dimensions for Concat at axis %d (non-concatenation axis): %s and input #%d %s",
					d, outShape, ii+1, input.Shape)
			}
			if outShape.Dimensions[d] == shapes.UnknownDim {
				outShape.Dimensions[d] = dim
			}
			if r, ok := outRange[d].Intersect(inputRange[d]); ok {
				outRange[d] = r
			}
		}
	}
	if len(known) != len(inputs) {
		// Inputs of unknown rank may add any size to the concatenation axis.
		outShape.Dimensions[axis] = shapes.UnknownDim
		outRange[axis].Max = shapes.Unbounded
	}
	return newOutput(known[0], outShape, outRange), nil
}

// ExpandDims inserts an axis of dimension 1 at the given position, which can be in [-rank-1, rank].
func ExpandDims(operand tensordesc.Desc, axis int) (output tensordesc.Desc, err error) {
	if operand.Shape.IsUnknownRank() {
		return newOutput(operand, operand.Shape, nil), nil
	}
	rank := operand.Shape.Rank()
	if axis, err = AdjustAxisToRank(axis, rank+1); err != nil {
		return output, errors.WithMessagef(err, "ExpandDims(%s)", operand.Shape)
	}
	outShape := operand.Shape.Clone()
	outShape.Dimensions = slices.Insert(outShape.Dimensions, axis, 1)
	outRange := slices.Insert(operand.Range(), axis, shapes.Exact(1))
	output = newOutput(operand, outShape, outRange)
	output.Value, err = reshapeLiteralIfKnown(operand, outShape)
	return
}

// Squeeze removes axes of dimension 1. If axes is empty, all axes of dimension 1 are removed, and
// if any dimension is unknown the output rank is unknown.
func Squeeze(operand tensordesc.Desc, axes []int) (output tensordesc.Desc, err error) {
	if operand.Shape.IsUnknownRank() {
		return newOutput(operand, operand.Shape, nil), nil
	}
	rank := operand.Shape.Rank()
	var toRemove utils.Set[int]
	if len(axes) == 0 {
		if slices.Contains(operand.Shape.Dimensions, shapes.UnknownDim) {
			return newOutput(operand, shapes.MakeUnknownRank(operand.DType()), nil), nil
		}
		toRemove = utils.MakeSet[int]()
		for axis, dim := range operand.Shape.Dimensions {
			if dim == 1 {
				toRemove.Insert(axis)
			}
		}
	} else {
		var adjusted []int
		if adjusted, err = adjustAxes(axes, rank); err != nil {
			return output, errors.WithMessagef(err, "Squeeze(%s)", operand.Shape)
		}
		for _, axis := range adjusted {
			if dim := operand.Shape.Dimensions[axis]; dim != 1 && dim != shapes.UnknownDim {
				return output, errors.Errorf("Squeeze(%s): axis %d has dimension %d, it can't be squeezed", operand.Shape, axis, dim)
			}
		}
		toRemove = utils.SetWith(adjusted...)
	}
	inputRange := operand.Range()
	outShape := shapes.Shape{DType: operand.DType(), Dimensions: make([]int, 0, rank)}
	outRange := make(shapes.Range, 0, rank)
	for axis, dim := range operand.Shape.Dimensions {
		if toRemove.Has(axis) {
			continue
		}
		outShape.Dimensions = append(outShape.Dimensions, dim)
		outRange = append(outRange, inputRange[axis])
	}
	output = newOutput(operand, outShape, outRange)
	output.Value, err = reshapeLiteralIfKnown(operand, outShape)
	return
}

func reshapeLiteralIfKnown(operand tensordesc.Desc, outShape shapes.Shape) (*literal.Literal, error) {
	if operand.Value == nil {
		return nil, nil
	}
	return reshapeLiteral(operand.Value, outShape.Dimensions)
}
