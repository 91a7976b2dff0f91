// Package optypes defines OpType and lists the operator types with built-in support.
package optypes

import (
	"github.com/gomlx/opgraph/internal/utils"
)

// OpType is the type tag of a graph operator. Registries are keyed by it, and new operator
// types can be registered under any name: the constants below are the ones with built-in support.
type OpType string

const (
	Invalid OpType = ""

	// Boundary and constants.
	Data     OpType = "Data"
	Const    OpType = "Const"
	Variable OpType = "Variable"
	Identity OpType = "Identity"
	Cast     OpType = "Cast"
	Assign   OpType = "Assign"

	// Unary element-wise.
	Relu       OpType = "Relu"
	Sigmoid    OpType = "Sigmoid"
	Tanh       OpType = "Tanh"
	Exp        OpType = "Exp"
	Log        OpType = "Log"
	Sqrt       OpType = "Sqrt"
	Rsqrt      OpType = "Rsqrt"
	Abs        OpType = "Abs"
	Neg        OpType = "Neg"
	Gelu       OpType = "Gelu"
	Erf        OpType = "Erf"
	LogicalNot OpType = "LogicalNot"

	// Binary element-wise with broadcasting.
	Add        OpType = "Add"
	Sub        OpType = "Sub"
	Mul        OpType = "Mul"
	RealDiv    OpType = "RealDiv"
	Maximum    OpType = "Maximum"
	Minimum    OpType = "Minimum"
	Pow        OpType = "Pow"
	LogicalAnd OpType = "LogicalAnd"
	LogicalOr  OpType = "LogicalOr"
	Equal      OpType = "Equal"
	NotEqual   OpType = "NotEqual"
	Less       OpType = "Less"
	Greater    OpType = "Greater"

	BiasAdd  OpType = "BiasAdd"
	AddN     OpType = "AddN"
	ConcatV2 OpType = "ConcatV2"

	// Reductions.
	ReduceSum  OpType = "ReduceSum"
	ReduceMean OpType = "ReduceMean"
	ReduceMax  OpType = "ReduceMax"
	ReduceSumD OpType = "ReduceSumD"

	// Linear algebra and normalization.
	MatMul      OpType = "MatMul"
	MatMulV2    OpType = "MatMulV2"
	BatchMatMul OpType = "BatchMatMul"
	Softmax     OpType = "Softmax"
	LayerNorm   OpType = "LayerNorm"
	Dropout     OpType = "Dropout"

	// Shape manipulation.
	Shape      OpType = "Shape"
	Reshape    OpType = "Reshape"
	Transpose  OpType = "Transpose"
	TransposeD OpType = "TransposeD"
	ExpandDims OpType = "ExpandDims"
	Squeeze    OpType = "Squeeze"

	// Convolution and pooling.
	Conv2D  OpType = "Conv2D"
	MaxPool OpType = "MaxPool"
	AvgPool OpType = "AvgPool"

	// Recurrent.
	DynamicRNN OpType = "DynamicRNN"

	// Attention, and the fused operators created by the fusion passes.
	MultiHeadAttention          OpType = "MultiHeadAttention"
	MultiHeadAttentionGrad      OpType = "MultiHeadAttentionGrad"
	AttentionScore              OpType = "AttentionScore"
	MultiHeadAttentionLayerNorm OpType = "MultiHeadAttentionLayerNorm"
	SelfAttentionGrad           OpType = "SelfAttentionGrad"
	FusedDense                  OpType = "FusedDense"
)

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op == Invalid {
		return "Invalid"
	}
	return string(op)
}

var (
	// UnaryElementwise ops keep the shape of their single input.
	UnaryElementwise = utils.SetWith(Relu, Sigmoid, Tanh, Exp, Log, Sqrt, Rsqrt, Abs, Neg, Gelu, Erf, LogicalNot)

	// FloatOnly ops require float inputs.
	FloatOnly = utils.SetWith(Sigmoid, Tanh, Exp, Log, Sqrt, Rsqrt, Gelu, Erf, RealDiv, Pow, Softmax, LayerNorm, Dropout)

	// Logical ops require boolean inputs.
	Logical = utils.SetWith(LogicalNot, LogicalAnd, LogicalOr)

	// BinaryBroadcast ops combine two inputs with standard broadcasting.
	BinaryBroadcast = utils.SetWith(Add, Sub, Mul, RealDiv, Maximum, Minimum, Pow, LogicalAnd, LogicalOr, Equal, NotEqual, Less, Greater)

	// Comparison ops are BinaryBroadcast ops returning booleans.
	Comparison = utils.SetWith(Equal, NotEqual, Less, Greater)

	// Reduce ops take the reduction axes as an input tensor.
	Reduce = utils.SetWith(ReduceSum, ReduceMean, ReduceMax)

	// Fused ops are created by the fusion passes.
	Fused = utils.SetWith(AttentionScore, MultiHeadAttentionLayerNorm, SelfAttentionGrad, FusedDense)
)
