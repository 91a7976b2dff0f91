// Package graphtest builds the graphs used in tests of the fusion passes and the command line tool.
//
// All graphs are built with opgraph.Build and have their shapes inferred by the default engine. They
// panic on errors.
package graphtest

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/janpfeifer/must"
)

// Hidden dimension of the attention graphs.
const Hidden = 1024

// Dimensions of the attention graphs.
const (
	Batch  = 2
	SeqLen = 128
)

func build(name string, fn func(b *opgraph.Builder)) *opgraph.Graph {
	g := must.M1(opgraph.Build(name, fn))
	must.M1(opgraph.NewEngine(nil).InferGraph(g))
	return g
}

// MultiHeadAttentionLayerNorm returns the graph LayerNorm(MultiHeadAttention(q, k, v).y + q), with
// outputs the normalized value and the attention probabilities.
func MultiHeadAttentionLayerNorm(headNum int) *opgraph.Graph {
	return build("mha_layer_norm", func(b *opgraph.Builder) {
		desc := tensordesc.Make(dtypes.Float32, Batch, SeqLen, Hidden)
		q, k, v := b.Data("query", desc), b.Data("key", desc), b.Data("value", desc)
		gamma := b.Data("gamma", tensordesc.Make(dtypes.Float32, Hidden))
		beta := b.Data("beta", tensordesc.Make(dtypes.Float32, Hidden))
		mha := b.MultiHeadAttention(q, k, v, headNum)
		residual := b.Add(mha.NamedOutputPort("y"), q)
		ln := b.LayerNorm(residual, gamma, beta, -1, -1)
		b.Output(ln.NamedOutputPort("y"), mha.NamedOutputPort("attention_probs"))
	})
}

// SelfAttentionGrad returns the graph summing the three gradients of a self-attention
// MultiHeadAttentionGrad, where query, key and value are the same tensor x.
func SelfAttentionGrad(headNum int) *opgraph.Graph {
	return build("self_attention_grad", func(b *opgraph.Builder) {
		desc := tensordesc.Make(dtypes.Float32, Batch, SeqLen, Hidden)
		x, dy := b.Data("x", desc), b.Data("dy", desc)
		grad := b.MultiHeadAttentionGrad(x, x, x, dy, headNum)
		b.Output(b.AddN(grad.OutputPort(0), grad.OutputPort(1), grad.OutputPort(2)))
	})
}

// AttentionScoreOptions configures the graph built by AttentionScore.
type AttentionScoreOptions struct {
	// Heads of the query, -1 for dynamic.
	Heads int

	// TransposeKey uses a TransposeD for the key, instead of the adj_x2 flag.
	TransposeKey bool

	// Divide scales with RealDiv(scores, 8) instead of Mul(scores, 0.125).
	Divide bool

	Mask, Dropout bool
}

// AttentionScore returns the scaled dot-product attention graph
// BatchMatMul(Softmax(BatchMatMul(q, k^T) * 0.125 [+ mask]) [dropout], v), with BNSD inputs.
func AttentionScore(opts AttentionScoreOptions) *opgraph.Graph {
	return build("attention_score", func(b *opgraph.Builder) {
		const headDim, kvLen = 64, 256
		q := b.Data("query", tensordesc.Make(dtypes.Float32, Batch, opts.Heads, SeqLen, headDim))
		k := b.Data("key", tensordesc.Make(dtypes.Float32, Batch, 16, kvLen, headDim))
		v := b.Data("value", tensordesc.Make(dtypes.Float32, Batch, 16, kvLen, headDim))
		var scores opgraph.Port
		if opts.TransposeKey {
			scores = b.BatchMatMul(q, b.Transpose(k, 0, 1, 3, 2), false, false)
		} else {
			scores = b.BatchMatMul(q, k, false, true)
		}
		if opts.Divide {
			scores = b.RealDiv(scores, b.Const("scale", literal.Scalar(float32(8))))
		} else {
			scores = b.Mul(scores, b.Const("scale", literal.Scalar(float32(0.125))))
		}
		if opts.Mask {
			scores = b.Add(scores, b.Data("mask", tensordesc.Make(dtypes.Float32, Batch, 1, SeqLen, kvLen)))
		}
		probs := b.Softmax(scores, -1)
		if opts.Dropout {
			probs = b.Dropout(probs, 0.9)
		}
		b.Output(b.BatchMatMul(probs, v, false, false))
	})
}

// Dense returns the graph activation(x x w + bias), where bias (added with BiasAdd) and the activation
// ("relu", "gelu" or "" for none) are optional.
func Dense(bias bool, activation string) *opgraph.Graph {
	return build("dense", func(b *opgraph.Builder) {
		x := b.Data("x", tensordesc.Make(dtypes.Float32, 4, 8))
		w := b.Data("w", tensordesc.Make(dtypes.Float32, 8, 16))
		y := b.MatMul(x, w, false, false)
		if bias {
			y = b.BiasAdd(y, b.Data("bias", tensordesc.Make(dtypes.Float32, 16)), "NHWC")
		}
		switch activation {
		case "relu":
			y = b.Relu(y)
		case "gelu":
			y = b.Gelu(y)
		}
		b.Output(y)
	})
}
