package shapeinference

import (
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// ConvConfig holds the attributes of a 2D convolution or pooling. Lists have one value per axis of the
// input, in the order given by Format, except Pads, which is [top, bottom, left, right].
type ConvConfig struct {
	Strides   []int
	Dilations []int
	Pads      []int
	Groups    int
	Format    types.Format
	Padding   types.Padding
}

// spatialOutput returns the output size of one spatial axis, or -1 if it would be empty.
func spatialOutput(in, kernel, stride, dilation, padBefore, padAfter int, padding types.Padding) int {
	effKernel := (kernel-1)*dilation + 1
	var out int
	switch padding {
	case types.PaddingSame:
		out = (in + stride - 1) / stride
	case types.PaddingValid:
		if in < effKernel {
			return -1
		}
		out = (in-effKernel)/stride + 1
	default:
		padded := in + padBefore + padAfter
		if padded < effKernel {
			return -1
		}
		out = (padded-effKernel)/stride + 1
	}
	if out <= 0 {
		return -1
	}
	return out
}

// spatialRange applies the output size function to the bounds of the range of a dynamic input dimension.
func spatialRange(in shapes.DimRange, kernel, stride, dilation, padBefore, padAfter int, padding types.Padding) shapes.DimRange {
	out := shapes.DimRange{Min: 0, Max: shapes.Unbounded}
	if v := spatialOutput(in.Min, kernel, stride, dilation, padBefore, padAfter, padding); v > 0 {
		out.Min = v
	}
	if !in.IsUnbounded() {
		out.Max = max(spatialOutput(in.Max, kernel, stride, dilation, padBefore, padAfter, padding), out.Min)
	}
	return out
}

func checkFourElements(name string, values []int, format types.Format, channelAxis int) error {
	if len(values) != 4 {
		return errors.Errorf("%s must have 4 elements, got %v", name, values)
	}
	for ii, v := range values {
		if v <= 0 {
			return errors.Errorf("%s must be positive, got %v", name, values)
		}
		if (ii == 0 || ii == channelAxis) && v != 1 {
			return errors.Errorf("%s of the batch and channel axes must be 1 for format %s, got %v", name, format, values)
		}
	}
	return nil
}

func (c *ConvConfig) validate() (channelAxis, hAxis, wAxis int, err error) {
	if c.Format != types.FormatNCHW && c.Format != types.FormatNHWC {
		err = errors.Errorf("data_format must be NCHW or NHWC, got %s", c.Format)
		return
	}
	channelAxis = c.Format.ChannelAxis()
	if hAxis, wAxis, err = c.Format.SpatialAxes(); err != nil {
		return
	}
	if err = checkFourElements("strides", c.Strides, c.Format, channelAxis); err != nil {
		return
	}
	if len(c.Dilations) == 0 {
		c.Dilations = []int{1, 1, 1, 1}
	}
	if err = checkFourElements("dilations", c.Dilations, c.Format, channelAxis); err != nil {
		return
	}
	if len(c.Pads) == 0 {
		c.Pads = []int{0, 0, 0, 0}
	}
	if len(c.Pads) != 4 {
		err = errors.Errorf("pads must have 4 elements [top, bottom, left, right], got %v", c.Pads)
		return
	}
	for _, p := range c.Pads {
		if p < 0 {
			err = errors.Errorf("pads must be non-negative, got %v", c.Pads)
			return
		}
	}
	if c.Groups == 0 {
		c.Groups = 1
	}
	if c.Groups < 0 {
		err = errors.Errorf("groups must be positive, got %d", c.Groups)
	}
	return
}

// filterAxes returns the output channels, input channels, height and width axes of the filter.
// Filters in HWCN or NCHW layout are accepted; in FormatND the layout follows the data format.
func filterAxes(filter tensordesc.Desc, dataFormat types.Format) (outC, inC, h, w int) {
	format := filter.Format
	if format == types.FormatND {
		format = types.FormatHWCN
		if dataFormat == types.FormatNCHW {
			format = types.FormatNCHW
		}
	}
	switch format {
	case types.FormatNCHW:
		return 0, 1, 2, 3
	case types.FormatNHWC:
		return 0, 3, 1, 2
	}
	return 3, 2, 0, 1
}

// Conv2D returns the output of a 2D convolution of x with filter.
func Conv2D(x, filter tensordesc.Desc, config ConvConfig) (output tensordesc.Desc, err error) {
	channelAxis, hAxis, wAxis, err := config.validate()
	if err != nil {
		return output, errors.WithMessage(err, "Conv2D")
	}
	if x.DType() != filter.DType() {
		return output, errors.Errorf("Conv2D: x %s and filter %s must have the same dtype", x.Shape, filter.Shape)
	}
	if x.Shape.IsUnknownRank() {
		return newOutput(x, shapes.MakeUnknownRank(x.DType()), nil), nil
	}
	if x.Shape.Rank() != 4 {
		return output, errors.Errorf("Conv2D: x must be rank-4, got %s", x.Shape)
	}
	if filter.Shape.IsUnknownRank() {
		filter = tensordesc.Make(filter.DType(), shapes.UnknownDim, shapes.UnknownDim, shapes.UnknownDim, shapes.UnknownDim).
			WithFormat(filter.Format)
	}
	if filter.Shape.Rank() != 4 {
		return output, errors.Errorf("Conv2D: filter must be rank-4, got %s", filter.Shape)
	}
	outCAxis, inCAxis, kHAxis, kWAxis := filterAxes(filter, config.Format)
	inChannels, filterInChannels := x.Shape.Dimensions[channelAxis], filter.Shape.Dimensions[inCAxis]
	if inChannels != shapes.UnknownDim && filterInChannels != shapes.UnknownDim && inChannels != filterInChannels*config.Groups {
		return output, errors.Errorf("Conv2D: x channels %d must be equal to filter input channels %d * groups %d",
			inChannels, filterInChannels, config.Groups)
	}
	outChannels := filter.Shape.Dimensions[outCAxis]
	if outChannels != shapes.UnknownDim && outChannels%config.Groups != 0 {
		return output, errors.Errorf("Conv2D: filter output channels %d must be divisible by groups %d", outChannels, config.Groups)
	}

	xRange := x.Range()
	outShape := x.Shape.Clone()
	outRange := x.Range()
	outShape.Dimensions[channelAxis] = outChannels
	outRange[channelAxis] = filter.Range()[outCAxis]
	kernels := [2]int{filter.Shape.Dimensions[kHAxis], filter.Shape.Dimensions[kWAxis]}
	for ii, axis := range []int{hAxis, wAxis} {
		if err = convSpatialAxis(&outShape, outRange, xRange, axis, kernels[ii], ii, config); err != nil {
			return output, errors.WithMessagef(err, "Conv2D(%s, %s)", x.Shape, filter.Shape)
		}
	}
	return newOutput(x, outShape, outRange), nil
}

// convSpatialAxis sets the output dimension and range of spatial axis (index ii in [height, width]).
func convSpatialAxis(outShape *shapes.Shape, outRange, inRange shapes.Range, axis, kernel, ii int, config ConvConfig) error {
	in := outShape.Dimensions[axis]
	stride, dilation := config.Strides[axis], config.Dilations[axis]
	padBefore, padAfter := config.Pads[2*ii], config.Pads[2*ii+1]
	if kernel == shapes.UnknownDim {
		outShape.Dimensions[axis] = shapes.UnknownDim
		outRange[axis] = shapes.DimRange{Min: 0, Max: shapes.Unbounded}
		return nil
	}
	if in == shapes.UnknownDim {
		outRange[axis] = spatialRange(inRange[axis], kernel, stride, dilation, padBefore, padAfter, config.Padding)
		return nil
	}
	out := spatialOutput(in, kernel, stride, dilation, padBefore, padAfter, config.Padding)
	if out <= 0 {
		return errors.Errorf("window %d (dilation %d) is larger than the padded input dimension %d of axis %d", kernel, dilation, in, axis)
	}
	outShape.Dimensions[axis], outRange[axis] = out, shapes.Exact(out)
	return nil
}

// Pool returns the output of a 2D max or average pooling with window ksize (4 elements, in the data format order).
func Pool(x tensordesc.Desc, ksize []int, config ConvConfig) (output tensordesc.Desc, err error) {
	channelAxis, hAxis, wAxis, err := config.validate()
	if err != nil {
		return output, errors.WithMessage(err, "Pool")
	}
	if err = checkFourElements("ksize", ksize, config.Format, channelAxis); err != nil {
		return output, errors.WithMessage(err, "Pool")
	}
	if !x.DType().IsFloat() {
		return output, errors.Errorf("Pool requires a float input, got %s", x.Shape)
	}
	if x.Shape.IsUnknownRank() {
		return newOutput(x, x.Shape, nil), nil
	}
	if x.Shape.Rank() != 4 {
		return output, errors.Errorf("Pool: x must be rank-4, got %s", x.Shape)
	}
	xRange := x.Range()
	outShape := x.Shape.Clone()
	outRange := x.Range()
	for ii, axis := range []int{hAxis, wAxis} {
		if err = convSpatialAxis(&outShape, outRange, xRange, axis, ksize[axis], ii, config); err != nil {
			return output, errors.WithMessagef(err, "Pool(%s, ksize=%v)", x.Shape, ksize)
		}
	}
	return newOutput(x, outShape, outRange), nil
}
