package opgraph

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/internal/utils"
	"github.com/gomlx/opgraph/shapeinference"
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/attrs"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

func inputs(names ...string) []SlotDef {
	slots := make([]SlotDef, len(names))
	for ii, name := range names {
		slots[ii] = SlotDef{Name: name}
	}
	return slots
}

func optionalInput(name string) SlotDef { return SlotDef{Name: name, Optional: true} }

func dynamicInput(name string) SlotDef { return SlotDef{Name: name, Dynamic: true} }

func outputs(names ...string) []SlotDef { return inputs(names...) }

func required(name string, kind attrs.Kind) AttrDef {
	return AttrDef{Name: name, Kind: kind, Required: true}
}

func withDefault(name string, value attrs.Value) AttrDef {
	return AttrDef{Name: name, Kind: value.Kind(), Default: value}
}

// Attribute names shared by several operators.
const (
	AttrShape          = "shape"
	AttrDType          = "dtype"
	AttrShapeRange     = "shape_range"
	AttrFormat         = "format"
	AttrValue          = "value"
	AttrDataFormat     = "data_format"
	AttrKeepDims       = "keep_dims"
	AttrKeepProb       = "keep_prob"
	AttrAttnHeadNum    = "attn_head_num"
	AttrBeginNormAxis  = "begin_norm_axis"
	AttrBeginParamAxis = "begin_params_axis"
	AttrEpsilon        = "epsilon"
	AttrTransposeX1    = "transpose_x1"
	AttrTransposeX2    = "transpose_x2"
	AttrAxes           = "axes"
	AttrActivation     = "activation"
	AttrScaleValue     = "scale_value"
	AttrHeadNum        = "head_num"
	AttrInputLayout    = "input_layout"
)

// DynamicRNN enumerations.
var (
	RNNCellTypes  = []string{"LSTM"}
	RNNDirections = []string{"UNIDIRECTIONAL", "REDIRECTIONAL"}
)

// builtinOpDefs returns the definitions of all built-in operators.
func builtinOpDefs() []*OpDef {
	defs := []*OpDef{
		{
			Type:    optypes.Data,
			Outputs: outputs("y"),
			Attrs: []AttrDef{{Name: AttrShape, Kind: attrs.KindInts}, {Name: AttrDType, Kind: attrs.KindDType},
				{Name: AttrShapeRange, Kind: attrs.KindIntLists}, withDefault(AttrFormat, attrs.String("ND"))},
			Infer: inferDeclared,
		},
		{
			Type:    optypes.Variable,
			Outputs: outputs("y"),
			Attrs: []AttrDef{{Name: AttrShape, Kind: attrs.KindInts}, {Name: AttrDType, Kind: attrs.KindDType},
				{Name: AttrShapeRange, Kind: attrs.KindIntLists}, withDefault(AttrFormat, attrs.String("ND"))},
			Infer: inferDeclared,
		},
		{
			Type:    optypes.Const,
			Outputs: outputs("y"),
			Attrs:   []AttrDef{required(AttrValue, attrs.KindLiteral)},
			Infer: func(ctx *InferContext) error {
				value, err := ctx.AttrLiteral(AttrValue)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", tensordesc.FromLiteral(value))
			},
		},
		{
			Type:    optypes.Identity,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				return ctx.SetOutput("y", shapeinference.Identity(ctx.Input("x")))
			},
		},
		{
			Type:    optypes.Cast,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{required("dst_type", attrs.KindDType)},
			Infer: func(ctx *InferContext) error {
				dtype, err := ctx.AttrDType("dst_type")
				if err != nil {
					return err
				}
				y, err := shapeinference.Cast(ctx.Input("x"), dtype)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.Assign,
			Inputs:  inputs("ref", "value"),
			Outputs: outputs("ref"),
			Infer: func(ctx *InferContext) error {
				return ctx.SetOutput("ref", shapeinference.Identity(ctx.Input("ref")))
			},
			Verify: func(ctx *InferContext) error {
				ref, value := ctx.Input("ref"), ctx.Input("value")
				if ref.Ok() && value.Ok() && ref.DType() != value.DType() {
					return errors.Errorf("ref dtype %s and value dtype %s must be the same", ref.DType(), value.DType())
				}
				if ref.Ok() && value.Ok() && !ref.Shape.Compatible(value.Shape) {
					return errors.Errorf("ref shape %s and value shape %s are not compatible", ref.Shape, value.Shape)
				}
				return nil
			},
		},
		{
			Type:    optypes.BiasAdd,
			Inputs:  inputs("x", "bias"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{withDefault(AttrDataFormat, attrs.String("NHWC"))},
			Infer: func(ctx *InferContext) error {
				format, err := formatAttr(ctx)
				if err != nil {
					return err
				}
				y, err := shapeinference.BiasAdd(ctx.Input("x"), ctx.Input("bias"), format)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
			Verify: func(ctx *InferContext) error {
				_, err := formatAttr(ctx)
				return err
			},
		},
		{
			Type:    optypes.AddN,
			Inputs:  []SlotDef{dynamicInput("x")},
			Outputs: outputs("y"),
			Attrs:   []AttrDef{{Name: "N", Kind: attrs.KindInt}},
			Infer: func(ctx *InferContext) error {
				y, err := shapeinference.AddN(ctx.DynamicInputs("x"))
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
			Verify: func(ctx *InferContext) error {
				if !ctx.Node.Attrs.Has("N") {
					return nil
				}
				n, err := ctx.AttrInt("N")
				if err != nil {
					return err
				}
				if count := ctx.Node.DynamicInputs["x"]; n != count {
					return errors.Errorf("attribute N=%d doesn't match the %d inputs", n, count)
				}
				return nil
			},
		},
		{
			Type:    optypes.ConcatV2,
			Inputs:  []SlotDef{dynamicInput("x"), {Name: "concat_dim"}},
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				xs := ctx.DynamicInputs("x")
				if len(xs) == 0 {
					return errors.New("ConcatV2 requires at least one input")
				}
				axisValue := ctx.InputValue("concat_dim")
				if axisValue == nil {
					return ctx.SetOutput("y", tensordesc.UnknownRank(xs[0].DType()))
				}
				axes, err := axisValue.Ints()
				if err != nil || len(axes) != 1 {
					return errors.Errorf("concat_dim must be an integer scalar, got %s", axisValue)
				}
				y, err := shapeinference.Concat(xs, axes[0])
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.ReduceSumD,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{required(AttrAxes, attrs.KindInts), withDefault(AttrKeepDims, attrs.Bool(false))},
			Infer: func(ctx *InferContext) error {
				axes, err := ctx.AttrInts(AttrAxes)
				if err != nil {
					return err
				}
				keepDims, err := ctx.AttrBool(AttrKeepDims)
				if err != nil {
					return err
				}
				y, err := shapeinference.Reduce(ctx.Input("x"), axes, true, keepDims)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.MatMul,
			Inputs:  []SlotDef{{Name: "x1"}, {Name: "x2"}, optionalInput("bias")},
			Outputs: outputs("y"),
			Attrs:   transposeAttrs(AttrTransposeX1, AttrTransposeX2),
			Infer:   inferMatMul(false),
		},
		{
			Type:    optypes.MatMulV2,
			Inputs:  []SlotDef{{Name: "x1"}, {Name: "x2"}, optionalInput("bias")},
			Outputs: outputs("y"),
			Attrs:   transposeAttrs(AttrTransposeX1, AttrTransposeX2),
			Infer:   inferMatMul(true),
		},
		{
			Type:    optypes.BatchMatMul,
			Inputs:  inputs("x1", "x2"),
			Outputs: outputs("y"),
			Attrs:   transposeAttrs("adj_x1", "adj_x2"),
			Infer: func(ctx *InferContext) error {
				adjX1, adjX2, err := transposeFlags(ctx, "adj_x1", "adj_x2")
				if err != nil {
					return err
				}
				y, err := shapeinference.BatchMatMul(ctx.Input("x1"), ctx.Input("x2"), adjX1, adjX2)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.Softmax,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{withDefault(AttrAxes, attrs.Ints(-1))},
			Infer: func(ctx *InferContext) error {
				axes, err := ctx.AttrInts(AttrAxes)
				if err != nil {
					return err
				}
				y, err := shapeinference.Softmax(ctx.Input("x"), axes)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.LayerNorm,
			Inputs:  inputs("x", "gamma", "beta"),
			Outputs: outputs("y", "mean", "variance"),
			Attrs:   layerNormAttrs(),
			Infer: func(ctx *InferContext) error {
				normAxis, paramsAxis, err := layerNormAxes(ctx)
				if err != nil {
					return err
				}
				y, mean, variance, err := shapeinference.LayerNorm(ctx.Input("x"), ctx.Input("gamma"), ctx.Input("beta"), normAxis, paramsAxis)
				if err != nil {
					return err
				}
				return setOutputs(ctx, y, mean, variance)
			},
		},
		{
			Type:    optypes.Dropout,
			Inputs:  inputs("x"),
			Outputs: outputs("y", "mask"),
			Attrs:   []AttrDef{withDefault(AttrKeepProb, attrs.Float(1))},
			Infer: func(ctx *InferContext) error {
				keepProb, err := ctx.AttrFloat(AttrKeepProb)
				if err != nil {
					return err
				}
				y, mask, err := shapeinference.Dropout(ctx.Input("x"), keepProb)
				if err != nil {
					return err
				}
				return setOutputs(ctx, y, mask)
			},
			Verify: verifyKeepProb,
		},
		{
			Type:    optypes.Shape,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{withDefault(AttrDType, attrs.DType(dtypes.Int32))},
			Infer: func(ctx *InferContext) error {
				dtype, err := ctx.AttrDType(AttrDType)
				if err != nil {
					return err
				}
				y, err := shapeinference.ShapeOf(ctx.Input("x"), dtype)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.Reshape,
			Inputs:  inputs("x", "shape"),
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				y, err := shapeinference.Reshape(ctx.Input("x"), ctx.Input("shape"))
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.Transpose,
			Inputs:  inputs("x", "perm"),
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				x := ctx.Input("x")
				permValue := ctx.InputValue("perm")
				if permValue == nil {
					return ctx.SetOutput("y", unknownPermutation(x))
				}
				perm, err := permValue.Ints()
				if err != nil {
					return errors.WithMessage(err, "perm")
				}
				y, err := shapeinference.Transpose(x, perm)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.TransposeD,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{required("perm", attrs.KindInts)},
			Infer: func(ctx *InferContext) error {
				perm, err := ctx.AttrInts("perm")
				if err != nil {
					return err
				}
				y, err := shapeinference.Transpose(ctx.Input("x"), perm)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.ExpandDims,
			Inputs:  inputs("x", "axis"),
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				x := ctx.Input("x")
				axisValue := ctx.InputValue("axis")
				if axisValue == nil {
					return ctx.SetOutput("y", tensordesc.UnknownRank(x.DType()))
				}
				axis, err := axisValue.Ints()
				if err != nil || len(axis) != 1 {
					return errors.Errorf("axis must be an integer scalar, got %s", axisValue)
				}
				y, err := shapeinference.ExpandDims(x, axis[0])
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.Squeeze,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{withDefault("axis", attrs.Ints())},
			Infer: func(ctx *InferContext) error {
				axes, err := ctx.AttrInts("axis")
				if err != nil {
					return err
				}
				y, err := shapeinference.Squeeze(ctx.Input("x"), axes)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		},
		{
			Type:    optypes.Conv2D,
			Inputs:  []SlotDef{{Name: "x"}, {Name: "filter"}, optionalInput("bias")},
			Outputs: outputs("y"),
			Attrs: []AttrDef{
				required("strides", attrs.KindInts),
				withDefault("pads", attrs.Ints(0, 0, 0, 0)),
				withDefault("dilations", attrs.Ints(1, 1, 1, 1)),
				withDefault("groups", attrs.Int(1)),
				withDefault(AttrDataFormat, attrs.String("NHWC")),
				withDefault("padding", attrs.String("")),
			},
			Infer: func(ctx *InferContext) error {
				config, err := convConfig(ctx)
				if err != nil {
					return err
				}
				y, err := shapeinference.Conv2D(ctx.Input("x"), ctx.Input("filter"), config)
				if err != nil {
					return err
				}
				if bias, ok := ctx.OptionalInput("bias"); ok {
					if y, err = shapeinference.BiasAdd(y, bias, config.Format); err != nil {
						return err
					}
				}
				return ctx.SetOutput("y", y)
			},
			Verify: func(ctx *InferContext) error {
				_, err := convConfig(ctx)
				return err
			},
		},
		{
			Type:    optypes.DynamicRNN,
			Inputs:  []SlotDef{{Name: "x"}, {Name: "w"}, {Name: "b"}, optionalInput("seq_length"), optionalInput("init_h"), optionalInput("init_c")},
			Outputs: outputs(shapeinference.DynamicRNNOutputs...),
			Attrs: []AttrDef{
				withDefault("cell_type", attrs.String("LSTM")),
				withDefault("direction", attrs.String("UNIDIRECTIONAL")),
				withDefault("num_layers", attrs.Int(1)),
				withDefault("forget_bias", attrs.Float(0)),
			},
			Infer: func(ctx *InferContext) error {
				initH, _ := ctx.OptionalInput("init_h")
				initC, _ := ctx.OptionalInput("init_c")
				outs, err := shapeinference.DynamicRNN(ctx.Input("x"), ctx.Input("w"), ctx.Input("b"), initH, initC)
				if err != nil {
					return err
				}
				return setOutputs(ctx, outs...)
			},
			Verify: func(ctx *InferContext) error {
				if err := verifyEnum(ctx, "cell_type", RNNCellTypes); err != nil {
					return err
				}
				if err := verifyEnum(ctx, "direction", RNNDirections); err != nil {
					return err
				}
				if numLayers, err := ctx.AttrInt("num_layers"); err != nil || numLayers != 1 {
					return errors.Errorf("only num_layers=1 is supported, got %d (%v)", numLayers, err)
				}
				return nil
			},
		},
		{
			Type:    optypes.MultiHeadAttention,
			Inputs:  inputs("query", "key", "value"),
			Outputs: outputs("y", "attention_probs"),
			Attrs:   []AttrDef{required(AttrAttnHeadNum, attrs.KindInt), withDefault(AttrKeepProb, attrs.Float(1))},
			Infer: func(ctx *InferContext) error {
				headNum, err := ctx.AttrInt(AttrAttnHeadNum)
				if err != nil {
					return err
				}
				y, probs, err := shapeinference.MultiHeadAttention(ctx.Input("query"), ctx.Input("key"), ctx.Input("value"), headNum)
				if err != nil {
					return err
				}
				return setOutputs(ctx, y, probs)
			},
			Verify: verifyAttnHeadNum,
		},
		{
			Type:    optypes.MultiHeadAttentionGrad,
			Inputs:  inputs("query", "key", "value", "dy"),
			Outputs: outputs("query_grad", "key_grad", "value_grad"),
			Attrs:   []AttrDef{required(AttrAttnHeadNum, attrs.KindInt), withDefault(AttrKeepProb, attrs.Float(1))},
			Infer: func(ctx *InferContext) error {
				queryGrad, keyGrad, valueGrad, err := shapeinference.MultiHeadAttentionGrad(
					ctx.Input("query"), ctx.Input("key"), ctx.Input("value"), ctx.Input("dy"))
				if err != nil {
					return err
				}
				return setOutputs(ctx, queryGrad, keyGrad, valueGrad)
			},
			Verify: verifyAttnHeadNum,
		},
		{
			Type:    optypes.SelfAttentionGrad,
			Inputs:  inputs("x", "dy"),
			Outputs: outputs("x_grad"),
			Attrs:   []AttrDef{required(AttrAttnHeadNum, attrs.KindInt), withDefault(AttrKeepProb, attrs.Float(1))},
			Infer: func(ctx *InferContext) error {
				xGrad, err := shapeinference.SelfAttentionGrad(ctx.Input("x"), ctx.Input("dy"))
				if err != nil {
					return err
				}
				return ctx.SetOutput("x_grad", xGrad)
			},
			Verify: verifyAttnHeadNum,
		},
		{
			Type:    optypes.MultiHeadAttentionLayerNorm,
			Inputs:  inputs("query", "key", "value", "gamma", "beta"),
			Outputs: outputs("y", "mean", "variance", "attention_probs"),
			Attrs: append(layerNormAttrs(), required(AttrAttnHeadNum, attrs.KindInt),
				withDefault(AttrKeepProb, attrs.Float(1))),
			Infer: func(ctx *InferContext) error {
				headNum, err := ctx.AttrInt(AttrAttnHeadNum)
				if err != nil {
					return err
				}
				normAxis, paramsAxis, err := layerNormAxes(ctx)
				if err != nil {
					return err
				}
				y, mean, variance, probs, err := shapeinference.MultiHeadAttentionLayerNorm(ctx.Input("query"), ctx.Input("key"),
					ctx.Input("value"), ctx.Input("gamma"), ctx.Input("beta"), headNum, normAxis, paramsAxis)
				if err != nil {
					return err
				}
				return setOutputs(ctx, y, mean, variance, probs)
			},
			Verify: verifyAttnHeadNum,
		},
		{
			Type:    optypes.AttentionScore,
			Inputs:  []SlotDef{{Name: "query"}, {Name: "key"}, {Name: "value"}, optionalInput("atten_mask")},
			Outputs: outputs("attention_out"),
			Attrs: []AttrDef{
				withDefault(AttrScaleValue, attrs.Float(1)),
				withDefault(AttrKeepProb, attrs.Float(1)),
				withDefault(AttrHeadNum, attrs.Int(0)),
				withDefault(AttrInputLayout, attrs.String("BNSD")),
			},
			Infer: func(ctx *InferContext) error {
				layoutName, err := ctx.AttrString(AttrInputLayout)
				if err != nil {
					return err
				}
				layout, err := types.ParseAttentionLayout(layoutName)
				if err != nil {
					return err
				}
				mask, _ := ctx.OptionalInput("atten_mask")
				out, err := shapeinference.AttentionScore(ctx.Input("query"), ctx.Input("key"), ctx.Input("value"), mask, layout)
				if err != nil {
					return err
				}
				return ctx.SetOutput("attention_out", out)
			},
			Verify: func(ctx *InferContext) error {
				layoutName, err := ctx.AttrString(AttrInputLayout)
				if err != nil {
					return err
				}
				if _, err = types.ParseAttentionLayout(layoutName); err != nil {
					return err
				}
				if layoutName == "BSH" {
					if headNum, _ := ctx.AttrInt(AttrHeadNum); headNum <= 0 {
						return errors.Errorf("layout BSH requires a positive head_num, got %d", headNum)
					}
				}
				return verifyKeepProb(ctx)
			},
		},
		{
			Type:    optypes.FusedDense,
			Inputs:  []SlotDef{{Name: "x"}, {Name: "w"}, optionalInput("bias")},
			Outputs: outputs("y"),
			Attrs: append(transposeAttrs(AttrTransposeX1, AttrTransposeX2),
				withDefault(AttrActivation, attrs.String(""))),
			Infer: func(ctx *InferContext) error {
				transposeX, transposeW, err := transposeFlags(ctx, AttrTransposeX1, AttrTransposeX2)
				if err != nil {
					return err
				}
				activation, err := ctx.AttrString(AttrActivation)
				if err != nil {
					return err
				}
				bias, _ := ctx.OptionalInput("bias")
				y, err := shapeinference.FusedDense(ctx.Input("x"), ctx.Input("w"), bias, transposeX, transposeW, activation)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
			Verify: func(ctx *InferContext) error {
				return verifyEnum(ctx, AttrActivation, shapeinference.DenseActivations)
			},
		},
	}

	for _, opType := range utils.Sorted(optypes.UnaryElementwise) {
		defs = append(defs, &OpDef{
			Type:    opType,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				y, err := shapeinference.UnaryOp(opType, ctx.Input("x"))
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		})
	}
	for _, opType := range utils.Sorted(optypes.BinaryBroadcast) {
		defs = append(defs, &OpDef{
			Type:    opType,
			Inputs:  inputs("x1", "x2"),
			Outputs: outputs("y"),
			Infer: func(ctx *InferContext) error {
				y, err := shapeinference.BinaryOp(opType, ctx.Input("x1"), ctx.Input("x2"))
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		})
	}
	for _, opType := range utils.Sorted(optypes.Reduce) {
		defs = append(defs, &OpDef{
			Type:    opType,
			Inputs:  inputs("x", "axes"),
			Outputs: outputs("y"),
			Attrs:   []AttrDef{withDefault(AttrKeepDims, attrs.Bool(false))},
			Infer: func(ctx *InferContext) error {
				axes, known, err := shapeinference.ReduceAxesFromDesc(ctx.Input("axes"))
				if err != nil {
					return err
				}
				keepDims, err := ctx.AttrBool(AttrKeepDims)
				if err != nil {
					return err
				}
				y, err := shapeinference.Reduce(ctx.Input("x"), axes, known, keepDims)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
		})
	}
	for _, opType := range []optypes.OpType{optypes.MaxPool, optypes.AvgPool} {
		defs = append(defs, &OpDef{
			Type:    opType,
			Inputs:  inputs("x"),
			Outputs: outputs("y"),
			Attrs: []AttrDef{
				required("ksize", attrs.KindInts),
				required("strides", attrs.KindInts),
				withDefault("padding", attrs.String("VALID")),
				withDefault(AttrDataFormat, attrs.String("NHWC")),
			},
			Infer: func(ctx *InferContext) error {
				config, err := convConfig(ctx)
				if err != nil {
					return err
				}
				ksize, err := ctx.AttrInts("ksize")
				if err != nil {
					return err
				}
				y, err := shapeinference.Pool(ctx.Input("x"), ksize, config)
				if err != nil {
					return err
				}
				return ctx.SetOutput("y", y)
			},
			Verify: func(ctx *InferContext) error {
				_, err := convConfig(ctx)
				return err
			},
		})
	}
	return defs
}

// inferDeclared sets the output of Data and Variable nodes from their attributes, or keeps the output
// desc already set on the node if there are no shape attributes.
func inferDeclared(ctx *InferContext) error {
	if !ctx.Node.Attrs.Has(AttrShape) {
		declared := ctx.Node.Output(0).Desc
		if !declared.Ok() {
			return errors.Errorf("requires the %q and %q attributes, or an output desc", AttrShape, AttrDType)
		}
		return ctx.SetOutput("y", declared)
	}
	dims, err := ctx.AttrInts(AttrShape)
	if err != nil {
		return err
	}
	dtype, err := ctx.AttrDType(AttrDType)
	if err != nil {
		return err
	}
	shape, err := shapes.FromDimensions(dtype, dims)
	if err != nil {
		return err
	}
	desc := tensordesc.New(shape)
	format, err := formatAttrNamed(ctx, AttrFormat)
	if err != nil {
		return err
	}
	desc = desc.WithFormat(format)
	if ctx.Node.Attrs.Has(AttrShapeRange) {
		pairs, err := ctx.Node.Attrs.GetIntLists(AttrShapeRange)
		if err != nil {
			return err
		}
		if desc.ShapeRange, err = shapes.Parse(pairs); err != nil {
			return errors.WithMessagef(err, "attribute %q", AttrShapeRange)
		}
	}
	return ctx.SetOutput("y", desc)
}

func setOutputs(ctx *InferContext, descs ...tensordesc.Desc) error {
	if len(descs) != ctx.Node.NumOutputs() {
		return errors.Errorf("inference produced %d outputs, but the node has %d", len(descs), ctx.Node.NumOutputs())
	}
	for ii, desc := range descs {
		if err := ctx.SetOutput(ctx.Node.Output(ii).Name, desc); err != nil {
			return err
		}
	}
	return nil
}

func transposeAttrs(names ...string) []AttrDef {
	defs := make([]AttrDef, len(names))
	for ii, name := range names {
		defs[ii] = withDefault(name, attrs.Bool(false))
	}
	return defs
}

func transposeFlags(ctx *InferContext, name1, name2 string) (t1, t2 bool, err error) {
	if t1, err = ctx.AttrBool(name1); err != nil {
		return
	}
	t2, err = ctx.AttrBool(name2)
	return
}

// inferMatMul returns the inference of MatMul. If batched is set (MatMulV2), inputs of rank > 2 are
// batch-multiplied, with the bias broadcast over the result.
func inferMatMul(batched bool) InferFunc {
	return func(ctx *InferContext) error {
		transposeX1, transposeX2, err := transposeFlags(ctx, AttrTransposeX1, AttrTransposeX2)
		if err != nil {
			return err
		}
		x1, x2 := ctx.Input("x1"), ctx.Input("x2")
		bias, hasBias := ctx.OptionalInput("bias")
		if batched && (x1.Shape.Rank() > 2 || x2.Shape.Rank() > 2) {
			y, err := shapeinference.BatchMatMul(x1, x2, transposeX1, transposeX2)
			if err != nil {
				return err
			}
			if hasBias {
				if y, err = shapeinference.BinaryOp(optypes.Add, y, bias); err != nil {
					return errors.WithMessage(err, "bias")
				}
			}
			return ctx.SetOutput("y", y)
		}
		y, err := shapeinference.MatMul(x1, x2, bias, transposeX1, transposeX2)
		if err != nil {
			return err
		}
		return ctx.SetOutput("y", y)
	}
}

// unknownPermutation is the output of a transposition whose permutation is not known: the rank is kept,
// and each dimension can be any of the input dimensions.
func unknownPermutation(x tensordesc.Desc) tensordesc.Desc {
	if x.Shape.IsUnknownRank() {
		return tensordesc.UnknownRank(x.DType())
	}
	rank := x.Shape.Rank()
	inputRange := x.Range()
	dims := make([]int, rank)
	rng := make(shapes.Range, rank)
	for axis := range dims {
		dims[axis] = shapes.UnknownDim
		for ii, r := range inputRange {
			if ii == 0 {
				rng[axis] = r
			} else {
				rng[axis] = rng[axis].Union(r)
			}
		}
	}
	return tensordesc.Make(x.DType(), dims...).WithRange(rng).WithFormat(x.Format)
}

func layerNormAttrs() []AttrDef {
	return []AttrDef{
		withDefault(AttrBeginNormAxis, attrs.Int(0)),
		withDefault(AttrBeginParamAxis, attrs.Int(0)),
		withDefault(AttrEpsilon, attrs.Float(1e-7)),
	}
}

func layerNormAxes(ctx *InferContext) (normAxis, paramsAxis int, err error) {
	if normAxis, err = ctx.AttrInt(AttrBeginNormAxis); err != nil {
		return
	}
	paramsAxis, err = ctx.AttrInt(AttrBeginParamAxis)
	return
}

func formatAttr(ctx *InferContext) (types.Format, error) {
	return formatAttrNamed(ctx, AttrDataFormat)
}

func formatAttrNamed(ctx *InferContext, name string) (types.Format, error) {
	name, err := ctx.AttrString(name)
	if err != nil {
		return types.FormatND, err
	}
	return types.ParseFormat(name)
}

// convConfig collects and validates the attributes of Conv2D and the pooling operators.
func convConfig(ctx *InferContext) (config shapeinference.ConvConfig, err error) {
	if config.Strides, err = ctx.AttrInts("strides"); err != nil {
		return
	}
	if len(config.Strides) != 4 {
		return config, errors.Errorf("strides must have 4 elements, got %v", config.Strides)
	}
	if config.Format, err = formatAttr(ctx); err != nil {
		return
	}
	if config.Format != types.FormatNCHW && config.Format != types.FormatNHWC {
		return config, errors.Errorf("data_format must be NCHW or NHWC, got %s", config.Format)
	}
	paddingName, err := ctx.AttrString("padding")
	if err != nil {
		return
	}
	if config.Padding, err = types.ParsePadding(paddingName); err != nil {
		return
	}
	if ctx.HasAttr("pads") {
		if config.Pads, err = ctx.AttrInts("pads"); err != nil {
			return
		}
		if len(config.Pads) != 4 {
			return config, errors.Errorf("pads must have 4 elements, got %v", config.Pads)
		}
	}
	if ctx.HasAttr("dilations") {
		if config.Dilations, err = ctx.AttrInts("dilations"); err != nil {
			return
		}
		if len(config.Dilations) != 4 {
			return config, errors.Errorf("dilations must have 4 elements, got %v", config.Dilations)
		}
	}
	if ctx.HasAttr("groups") {
		if config.Groups, err = ctx.AttrInt("groups"); err != nil {
			return
		}
		if config.Groups < 1 {
			return config, errors.Errorf("groups must be positive, got %d", config.Groups)
		}
	}
	return config, nil
}

func verifyEnum(ctx *InferContext, name string, valid []string) error {
	value, err := ctx.AttrString(name)
	if err != nil {
		return err
	}
	if !slices.Contains(valid, value) {
		return errors.Errorf("invalid %s %q, valid values are %q", name, value, valid)
	}
	return nil
}

func verifyKeepProb(ctx *InferContext) error {
	keepProb, err := ctx.AttrFloat(AttrKeepProb)
	if err != nil {
		return err
	}
	if keepProb <= 0 || keepProb > 1 {
		return errors.Errorf("keep_prob must be in (0, 1], got %g", keepProb)
	}
	return nil
}

// verifyAttnHeadNum requires a static, positive attn_head_num dividing the hidden dimension of the query
// (or of x, for SelfAttentionGrad).
func verifyAttnHeadNum(ctx *InferContext) error {
	headNum, err := ctx.AttrInt(AttrAttnHeadNum)
	if err != nil {
		return err
	}
	inputName := "query"
	if ctx.Node.InputIndex(inputName) < 0 {
		inputName = "x"
	}
	if err = shapeinference.CheckHeadNum(ctx.Input(inputName), headNum); err != nil {
		return err
	}
	return verifyKeepProb(ctx)
}
