package opgraph

import (
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/attrs"
)

// Typed helpers adding the built-in operators to a graph under construction. All use generated names,
// use Builder.Op directly to name the node or set attributes not listed here.

// binaryOp adds a node of one of the optypes.BinaryBroadcast operators.
func (b *Builder) binaryOp(opType optypes.OpType, x1, x2 Port) Port {
	return b.Op(opType, "", attrs.Map{}, x1, x2).OutputPort(0)
}

// unaryOp adds a node of one of the optypes.UnaryElementwise operators.
func (b *Builder) unaryOp(opType optypes.OpType, x Port) Port {
	return b.Op(opType, "", attrs.Map{}, x).OutputPort(0)
}

// Identity adds a node forwarding x.
func (b *Builder) Identity(x Port) Port {
	return b.Op(optypes.Identity, "", attrs.Map{}, x).OutputPort(0)
}

// Cast adds the conversion of x to dtype, given by name ("float16", "int32", ...) or as a dtypes.DType.
func (b *Builder) Cast(x Port, dtype any) Port {
	return b.Op(optypes.Cast, "", Attrs("dst_type", dtype), x).OutputPort(0)
}

// AddN adds the sum of all inputs, which must have the same shape.
func (b *Builder) AddN(xs ...Port) Port {
	return b.Op(optypes.AddN, "", Attrs("N", len(xs)), xs...).OutputPort(0)
}

// BiasAdd adds the vector bias to the channels axis of x, given by dataFormat ("NHWC" or "NCHW").
func (b *Builder) BiasAdd(x, bias Port, dataFormat string) Port {
	return b.Op(optypes.BiasAdd, "", Attrs(AttrDataFormat, dataFormat), x, bias).OutputPort(0)
}

// ConcatV2 adds the concatenation of xs along the axis given by the scalar concatDim.
func (b *Builder) ConcatV2(concatDim Port, xs ...Port) Port {
	return b.Op(optypes.ConcatV2, "", attrs.Map{}, append(xs, concatDim)...).OutputPort(0)
}

// ReduceSum adds the sum of x over the axes given by the tensor axes.
func (b *Builder) ReduceSum(x, axes Port, keepDims bool) Port {
	return b.Op(optypes.ReduceSum, "", Attrs(AttrKeepDims, keepDims), x, axes).OutputPort(0)
}

// ReduceMean adds the mean of x over the axes given by the tensor axes.
func (b *Builder) ReduceMean(x, axes Port, keepDims bool) Port {
	return b.Op(optypes.ReduceMean, "", Attrs(AttrKeepDims, keepDims), x, axes).OutputPort(0)
}

// MatMul adds the matrix multiplication of x1 and x2 (MatMulV2, which also accepts batched inputs).
func (b *Builder) MatMul(x1, x2 Port, transposeX1, transposeX2 bool) Port {
	return b.Op(optypes.MatMulV2, "", Attrs(AttrTransposeX1, transposeX1, AttrTransposeX2, transposeX2), x1, x2).OutputPort(0)
}

// BatchMatMul adds the batched matrix multiplication of x1 and x2.
func (b *Builder) BatchMatMul(x1, x2 Port, adjX1, adjX2 bool) Port {
	return b.Op(optypes.BatchMatMul, "", Attrs("adj_x1", adjX1, "adj_x2", adjX2), x1, x2).OutputPort(0)
}

// Softmax adds the softmax of x over axes (defaults to the last axis).
func (b *Builder) Softmax(x Port, axes ...int) Port {
	nodeAttrs := attrs.Map{}
	if len(axes) > 0 {
		nodeAttrs = Attrs(AttrAxes, axes)
	}
	return b.Op(optypes.Softmax, "", nodeAttrs, x).OutputPort(0)
}

// LayerNorm adds a layer normalization of x over the axes starting at beginNormAxis. It returns the node,
// whose outputs are y, mean and variance.
func (b *Builder) LayerNorm(x, gamma, beta Port, beginNormAxis, beginParamsAxis int) *Node {
	return b.Op(optypes.LayerNorm, "", Attrs(AttrBeginNormAxis, beginNormAxis, AttrBeginParamAxis, beginParamsAxis),
		x, gamma, beta)
}

// Dropout adds a dropout of x, returning the y output.
func (b *Builder) Dropout(x Port, keepProb float64) Port {
	return b.Op(optypes.Dropout, "", Attrs(AttrKeepProb, keepProb), x).OutputPort(0)
}

// Shape adds the shape of x, as an Int32 vector.
func (b *Builder) Shape(x Port) Port {
	return b.Op(optypes.Shape, "", attrs.Map{}, x).OutputPort(0)
}

// Reshape adds the reshaping of x to the dimensions given by the tensor shape.
func (b *Builder) Reshape(x, shape Port) Port {
	return b.Op(optypes.Reshape, "", attrs.Map{}, x, shape).OutputPort(0)
}

// Transpose adds the transposition of x with a static permutation (TransposeD).
func (b *Builder) Transpose(x Port, perm ...int) Port {
	return b.Op(optypes.TransposeD, "", Attrs("perm", perm), x).OutputPort(0)
}

// Conv2D adds a 2D convolution. strides, pads and dilations follow dataFormat ("NHWC" or "NCHW"),
// pads may be nil if padding is "SAME" or "VALID".
func (b *Builder) Conv2D(x, filter Port, strides, pads []int, dataFormat, padding string) Port {
	nodeAttrs := Attrs("strides", strides, AttrDataFormat, dataFormat, "padding", padding)
	if pads != nil {
		nodeAttrs.Set("pads", attrs.Ints(pads...))
	}
	return b.Op(optypes.Conv2D, "", nodeAttrs, x, filter).OutputPort(0)
}

// MultiHeadAttention adds a multi-head attention node with headNum heads. Its outputs are y and
// attention_probs.
func (b *Builder) MultiHeadAttention(query, key, value Port, headNum int) *Node {
	return b.Op(optypes.MultiHeadAttention, "", Attrs(AttrAttnHeadNum, headNum), query, key, value)
}

// MultiHeadAttentionGrad adds the gradient of a multi-head attention. Its outputs are query_grad,
// key_grad and value_grad.
func (b *Builder) MultiHeadAttentionGrad(query, key, value, dy Port, headNum int) *Node {
	return b.Op(optypes.MultiHeadAttentionGrad, "", Attrs(AttrAttnHeadNum, headNum), query, key, value, dy)
}
