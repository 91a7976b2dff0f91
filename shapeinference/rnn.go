package shapeinference

import (
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// DynamicRNNOutputs lists the names of the outputs of DynamicRNN, in order. All have shape [T, B, H].
var DynamicRNNOutputs = []string{"y", "output_h", "output_c", "i", "j", "f", "o", "tanhc"}

// DynamicRNN returns the outputs of an LSTM over the time-major input x [T, B, I], with the concatenated
// weights w [I+H, 4H] and bias b [4H]. initH and initC are optional ([1, B, H]; pass invalid descs if absent).
//
// The hidden size H is taken from w, or from b if the second axis of w is unknown.
func DynamicRNN(x, w, b, initH, initC tensordesc.Desc) (outputs []tensordesc.Desc, err error) {
	if !x.DType().IsFloat() {
		return nil, errors.Errorf("DynamicRNN requires a float input x, got %s", x.Shape)
	}
	for _, param := range []struct {
		name string
		desc tensordesc.Desc
		rank int
	}{{"w", w, 2}, {"b", b, 1}, {"init_h", initH, 3}, {"init_c", initC, 3}} {
		if !param.desc.Ok() || param.desc.Shape.IsUnknownRank() {
			continue
		}
		if param.desc.Shape.Rank() != param.rank {
			return nil, errors.Errorf("DynamicRNN: %s must be rank-%d, got %s", param.name, param.rank, param.desc.Shape)
		}
	}
	if !w.Ok() || !b.Ok() {
		return nil, errors.New("DynamicRNN requires the inputs w and b")
	}

	hidden4 := shapes.UnknownDim
	if !w.Shape.IsUnknownRank() {
		hidden4 = w.Shape.Dimensions[1]
	}
	if hidden4 == shapes.UnknownDim && !b.Shape.IsUnknownRank() {
		hidden4 = b.Shape.Dimensions[0]
	}
	if !b.Shape.IsUnknownRank() && b.Shape.Dimensions[0] != shapes.UnknownDim && b.Shape.Dimensions[0] != hidden4 {
		return nil, errors.Errorf("DynamicRNN: b %s must have dimension 4*hidden=%d", b.Shape, hidden4)
	}
	hidden := shapes.UnknownDim
	if hidden4 != shapes.UnknownDim {
		if hidden4%4 != 0 {
			return nil, errors.Errorf("DynamicRNN: second axis of w %s must be 4*hidden", w.Shape)
		}
		hidden = hidden4 / 4
	}

	if x.Shape.IsUnknownRank() {
		x = tensordesc.Make(x.DType(), shapes.UnknownDim, shapes.UnknownDim, shapes.UnknownDim)
	}
	if x.Shape.Rank() != 3 {
		return nil, errors.Errorf("DynamicRNN: x must be rank-3 [T, B, I], got %s", x.Shape)
	}
	input := x.Shape.Dimensions[2]
	if !w.Shape.IsUnknownRank() && hidden != shapes.UnknownDim && input != shapes.UnknownDim {
		if rows := w.Shape.Dimensions[0]; rows != shapes.UnknownDim && rows != input+hidden {
			return nil, errors.Errorf("DynamicRNN: first axis of w %s must be input+hidden=%d+%d", w.Shape, input, hidden)
		}
	}
	for _, init := range []tensordesc.Desc{initH, initC} {
		if !init.Ok() || init.Shape.IsUnknownRank() {
			continue
		}
		if !init.Shape.Compatible(shapes.Make(x.DType(), 1, x.Shape.Dimensions[1], hidden)) {
			return nil, errors.Errorf("DynamicRNN: initial state %s must be [1, %d, %d]", init.Shape, x.Shape.Dimensions[1], hidden)
		}
	}

	xRange := x.Range()
	hiddenRange := shapes.DimRange{Min: 1, Max: shapes.Unbounded}
	if hidden != shapes.UnknownDim {
		hiddenRange = shapes.Exact(hidden)
	}
	outShape := shapes.Make(x.DType(), x.Shape.Dimensions[0], x.Shape.Dimensions[1], hidden)
	outRange := shapes.Range{xRange[0], xRange[1], hiddenRange}
	outputs = make([]tensordesc.Desc, len(DynamicRNNOutputs))
	for ii := range outputs {
		outputs[ii] = newOutput(x, outShape, outRange)
	}
	return outputs, nil
}
