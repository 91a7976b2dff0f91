package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// Reduce returns the output of a reduction of operand over axes.
//
// If axesKnown is false, the axes are given by a tensor whose value is not known at compile time:
// since which axes are removed cannot be determined, the output has unknown rank (regardless of keepDims).
// An empty list of known axes reduces over all axes.
func Reduce(operand tensordesc.Desc, axes []int, axesKnown, keepDims bool) (output tensordesc.Desc, err error) {
	if operand.DType() == dtypes.InvalidDType || operand.DType() == dtypes.Bool {
		return output, errors.Errorf("Reduce: invalid dtype for operand %s", operand.Shape)
	}
	if !axesKnown || operand.Shape.IsUnknownRank() {
		return newOutput(operand, shapes.MakeUnknownRank(operand.DType()), nil), nil
	}
	rank := operand.Shape.Rank()
	if len(axes) == 0 {
		axes = make([]int, rank)
		for ii := range axes {
			axes[ii] = ii
		}
	}
	adjusted, err := adjustAxes(axes, rank)
	if err != nil {
		return output, errors.WithMessagef(err, "invalid axes for Reduce(%s)", operand.Shape)
	}
	axesSet := utils.SetWith(adjusted...)

	inputRange := operand.Range()
	outShape := shapes.Shape{DType: operand.DType(), Dimensions: make([]int, 0, rank)}
	outRange := make(shapes.Range, 0, rank)
	for axis, dim := range operand.Shape.Dimensions {
		if axesSet.Has(axis) {
			if keepDims {
				outShape.Dimensions = append(outShape.Dimensions, 1)
				outRange = append(outRange, shapes.Exact(1))
			}
			continue
		}
		outShape.Dimensions = append(outShape.Dimensions, dim)
		outRange = append(outRange, inputRange[axis])
	}
	return newOutput(operand, outShape, outRange), nil
}

// ReduceAxesFromDesc returns the reduction axes given by an axes tensor desc, and whether they are known.
func ReduceAxesFromDesc(axes tensordesc.Desc) ([]int, bool, error) {
	if axes.Value == nil {
		return nil, false, nil
	}
	values, err := axes.Value.Ints()
	if err != nil {
		return nil, false, errors.WithMessage(err, "reduction axes must be integers")
	}
	if axes.Shape.Rank() > 1 {
		return nil, false, errors.Errorf("reduction axes must be a scalar or a vector, got %s", axes.Shape)
	}
	return values, true, nil
}

// Softmax checks the axes and returns the shape of the operand.
func Softmax(operand tensordesc.Desc, axes []int) (output tensordesc.Desc, err error) {
	if !operand.DType().IsFloat() {
		return output, errors.Errorf("Softmax requires a float operand, got %s", operand.Shape)
	}
	if len(axes) == 0 {
		return output, errors.New("Softmax requires at least one axis")
	}
	if !operand.Shape.IsUnknownRank() {
		if _, err = adjustAxes(axes, operand.Shape.Rank()); err != nil {
			return output, errors.WithMessagef(err, "Softmax(%s)", operand.Shape)
		}
	}
	return newOutput(operand, operand.Shape, operand.Range()), nil
}

// LayerNorm returns the outputs y, mean and variance of a layer normalization of x over the axes
// starting at beginNormAxis, with gamma and beta scaling the axes starting at beginParamsAxis.
// Mean and variance keep the normalized axes with dimension 1.
func LayerNorm(x, gamma, beta tensordesc.Desc, beginNormAxis, beginParamsAxis int) (y, mean, variance tensordesc.Desc, err error) {
	if !x.DType().IsFloat() {
		err = errors.Errorf("LayerNorm requires a float input, got %s", x.Shape)
		return
	}
	if x.Shape.IsUnknownRank() {
		y = newOutput(x, x.Shape, nil)
		mean = newOutput(x, x.Shape, nil)
		variance = newOutput(x, x.Shape, nil)
		return
	}
	rank := x.Shape.Rank()
	normAxis, err := AdjustAxisToRank(beginNormAxis, rank)
	if err != nil {
		err = errors.WithMessagef(err, "LayerNorm(%s): begin_norm_axis", x.Shape)
		return
	}
	paramsAxis, err := AdjustAxisToRank(beginParamsAxis, rank)
	if err != nil {
		err = errors.WithMessagef(err, "LayerNorm(%s): begin_params_axis", x.Shape)
		return
	}
	paramsShape := shapes.Shape{DType: x.DType(), Dimensions: slices.Clone(x.Shape.Dimensions[paramsAxis:])}
	for ii, param := range []tensordesc.Desc{gamma, beta} {
		name := []string{"gamma", "beta"}[ii]
		if !param.Ok() {
			continue
		}
		if param.DType() != x.DType() {
			err = errors.Errorf("LayerNorm: %s dtype %s doesn't match x %s", name, param.DType(), x.Shape)
			return
		}
		if !param.Shape.Compatible(paramsShape) {
			err = errors.Errorf("LayerNorm: %s shape %s doesn't match the trailing axes of x %s starting at axis %d",
				name, param.Shape, x.Shape, paramsAxis)
			return
		}
	}

	y = newOutput(x, x.Shape, x.Range())
	statsShape := x.Shape.Clone()
	statsRange := x.Range()
	for axis := normAxis; axis < rank; axis++ {
		statsShape.Dimensions[axis] = 1
		statsRange[axis] = shapes.Exact(1)
	}
	mean = newOutput(x, statsShape, statsRange)
	variance = newOutput(x, statsShape, statsRange)
	return
}

// Dropout returns the output y, with the shape of x, and the mask, a uint8 tensor with the same shape.
// keepProb must be in (0, 1].
func Dropout(x tensordesc.Desc, keepProb float64) (y, mask tensordesc.Desc, err error) {
	if !x.DType().IsFloat() {
		err = errors.Errorf("Dropout requires a float input, got %s", x.Shape)
		return
	}
	if keepProb <= 0 || keepProb > 1 {
		err = errors.Errorf("Dropout: keep_prob must be in (0, 1], got %g", keepProb)
		return
	}
	y = newOutput(x, x.Shape, x.Range())
	mask = newOutput(x, x.Shape.WithDType(dtypes.Uint8), x.Range())
	return
}
