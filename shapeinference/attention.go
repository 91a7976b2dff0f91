package shapeinference

import (
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// mergeDim returns the dimension known on either side, failing if both are known and differ.
func mergeDim(a int, aRange shapes.DimRange, b int, bRange shapes.DimRange) (int, shapes.DimRange, error) {
	switch {
	case a != shapes.UnknownDim && b != shapes.UnknownDim:
		if a != b {
			return 0, shapes.DimRange{}, errors.Errorf("dimensions %d and %d don't match", a, b)
		}
		return a, shapes.Exact(a), nil
	case a != shapes.UnknownDim:
		if !bRange.Contains(a) {
			return 0, shapes.DimRange{}, errors.Errorf("dimension %d is out of range %s", a, bRange)
		}
		return a, shapes.Exact(a), nil
	case b != shapes.UnknownDim:
		if !aRange.Contains(b) {
			return 0, shapes.DimRange{}, errors.Errorf("dimension %d is out of range %s", b, aRange)
		}
		return b, shapes.Exact(b), nil
	}
	r, ok := aRange.Intersect(bRange)
	if !ok {
		return 0, shapes.DimRange{}, errors.Errorf("ranges %s and %s don't overlap", aRange, bRange)
	}
	return shapes.UnknownDim, r, nil
}

// rank3OrUnknown returns a rank-3 version of desc: descs of unknown rank become [?, ?, ?].
func rank3OrUnknown(name string, desc tensordesc.Desc) (tensordesc.Desc, error) {
	if desc.Shape.IsUnknownRank() {
		return tensordesc.Make(desc.DType(), shapes.UnknownDim, shapes.UnknownDim, shapes.UnknownDim), nil
	}
	if desc.Shape.Rank() != 3 {
		return desc, errors.Errorf("%s must be rank-3 [batch, sequence, hidden], got %s", name, desc.Shape)
	}
	return desc, nil
}

// MultiHeadAttention returns the output y, with the shape of query [B, S, H], and the attention
// probabilities [B, N, S, Skv] of a multi-head attention with headNum (N) heads.
// key and value are [B, Skv, H].
//
// A headNum <= 0 means the number of heads is not known statically, and N is left unknown.
// The consistency of headNum with H is not checked here: see CheckHeadNum.
func MultiHeadAttention(query, key, value tensordesc.Desc, headNum int) (y, attentionProbs tensordesc.Desc, err error) {
	if !query.DType().IsFloat() {
		err = errors.Errorf("MultiHeadAttention requires float inputs, got query %s", query.Shape)
		return
	}
	if key.DType() != query.DType() || value.DType() != query.DType() {
		err = errors.Errorf("MultiHeadAttention: query %s, key %s and value %s must have the same dtype",
			query.Shape, key.Shape, value.Shape)
		return
	}
	if query.Shape.IsUnknownRank() {
		y = newOutput(query, query.Shape, nil)
		attentionProbs = newOutput(query, query.Shape, nil)
		return
	}
	names := []string{"query", "key", "value"}
	descs := []tensordesc.Desc{query, key, value}
	for ii := range descs {
		if descs[ii], err = rank3OrUnknown(names[ii], descs[ii]); err != nil {
			err = errors.WithMessage(err, "MultiHeadAttention")
			return
		}
	}
	query, key, value = descs[0], descs[1], descs[2]
	qRange, kRange, vRange := query.Range(), key.Range(), value.Range()

	batch, batchRange := query.Shape.Dimensions[0], qRange[0]
	hidden, hiddenRange := query.Shape.Dimensions[2], qRange[2]
	kvSeq, kvSeqRange := key.Shape.Dimensions[1], kRange[1]
	for ii, other := range []tensordesc.Desc{key, value} {
		otherRange := []shapes.Range{kRange, vRange}[ii]
		if batch, batchRange, err = mergeDim(batch, batchRange, other.Shape.Dimensions[0], otherRange[0]); err != nil {
			err = errors.WithMessagef(err, "MultiHeadAttention: batch axis of query %s and %s %s", query.Shape, names[ii+1], other.Shape)
			return
		}
		if hidden, hiddenRange, err = mergeDim(hidden, hiddenRange, other.Shape.Dimensions[2], otherRange[2]); err != nil {
			err = errors.WithMessagef(err, "MultiHeadAttention: hidden axis of query %s and %s %s", query.Shape, names[ii+1], other.Shape)
			return
		}
	}
	if kvSeq, kvSeqRange, err = mergeDim(kvSeq, kvSeqRange, value.Shape.Dimensions[1], vRange[1]); err != nil {
		err = errors.WithMessagef(err, "MultiHeadAttention: sequence axis of key %s and value %s", key.Shape, value.Shape)
		return
	}

	y = newOutput(query, shapes.Make(query.DType(), batch, query.Shape.Dimensions[1], hidden),
		shapes.Range{batchRange, qRange[1], hiddenRange})
	heads, headsRange := shapes.UnknownDim, shapes.DimRange{Min: 1, Max: shapes.Unbounded}
	if headNum > 0 {
		heads, headsRange = headNum, shapes.Exact(headNum)
	}
	attentionProbs = newOutput(query, shapes.Make(query.DType(), batch, heads, query.Shape.Dimensions[1], kvSeq),
		shapes.Range{batchRange, headsRange, qRange[1], kvSeqRange})
	return
}

// CheckHeadNum returns an error unless headNum is statically known, positive and divides the hidden
// dimension (last axis) of query. Queries with an unknown hidden dimension only require a positive headNum.
func CheckHeadNum(query tensordesc.Desc, headNum int) error {
	if headNum <= 0 {
		return errors.Errorf("attn_head_num must be a positive number of heads, got %d", headNum)
	}
	if query.Shape.IsUnknownRank() || query.Shape.Rank() == 0 {
		return nil
	}
	hidden := query.Shape.Dim(-1)
	if hidden != shapes.UnknownDim && hidden%headNum != 0 {
		return errors.Errorf("attn_head_num %d doesn't divide the hidden dimension %d of query %s", headNum, hidden, query.Shape)
	}
	return nil
}

// MultiHeadAttentionGrad returns the gradients of query, key and value of a multi-head attention,
// given the gradient dy of its output. dy must be compatible with query.
func MultiHeadAttentionGrad(query, key, value, dy tensordesc.Desc) (queryGrad, keyGrad, valueGrad tensordesc.Desc, err error) {
	if _, _, err = MultiHeadAttention(query, key, value, 0); err != nil {
		err = errors.WithMessage(err, "MultiHeadAttentionGrad")
		return
	}
	if dy.DType() != query.DType() || !dy.Shape.Compatible(query.Shape) {
		err = errors.Errorf("MultiHeadAttentionGrad: dy %s must match query %s", dy.Shape, query.Shape)
		return
	}
	queryGrad = newOutput(query, query.Shape, query.Range())
	keyGrad = newOutput(key, key.Shape, key.Range())
	valueGrad = newOutput(value, value.Shape, value.Range())
	return
}

// SelfAttentionGrad returns the gradient x_grad of the input x of a self-attention (query, key and
// value all being x), given the gradient dy of its output.
func SelfAttentionGrad(x, dy tensordesc.Desc) (xGrad tensordesc.Desc, err error) {
	queryGrad, _, _, err := MultiHeadAttentionGrad(x, x, x, dy)
	if err != nil {
		return xGrad, errors.WithMessage(err, "SelfAttentionGrad")
	}
	return queryGrad, nil
}

// MultiHeadAttentionLayerNorm returns the outputs of MultiHeadAttention followed by a residual Add with
// query and a LayerNorm: y, mean, variance and attention_probs.
func MultiHeadAttentionLayerNorm(query, key, value, gamma, beta tensordesc.Desc, headNum, beginNormAxis, beginParamsAxis int) (
	y, mean, variance, attentionProbs tensordesc.Desc, err error) {
	var attn tensordesc.Desc
	if attn, attentionProbs, err = MultiHeadAttention(query, key, value, headNum); err != nil {
		err = errors.WithMessage(err, "MultiHeadAttentionLayerNorm")
		return
	}
	y, mean, variance, err = LayerNorm(attn, gamma, beta, beginNormAxis, beginParamsAxis)
	if err != nil {
		err = errors.WithMessage(err, "MultiHeadAttentionLayerNorm")
	}
	return
}

// attentionAxes returns the sequence and head dimension axes of an attention input in the given layout.
func attentionAxes(layout types.AttentionLayout) (rank, seqAxis, headDimAxis int) {
	switch layout {
	case types.LayoutBSND:
		return 4, 1, 3
	case types.LayoutBSH:
		return 3, 1, 2
	}
	return 4, 2, 3
}

// AttentionScore returns the output of a scaled dot-product attention softmax(Q x K^T * scale + mask) x V.
// Query, key and value are laid out according to layout; the output has the shape of query with the
// last axis taken from value. The optional mask (invalid desc if absent) must broadcast to the scores.
func AttentionScore(query, key, value, mask tensordesc.Desc, layout types.AttentionLayout) (output tensordesc.Desc, err error) {
	if !query.DType().IsFloat() {
		return output, errors.Errorf("AttentionScore requires float inputs, got query %s", query.Shape)
	}
	if key.DType() != query.DType() || value.DType() != query.DType() {
		return output, errors.Errorf("AttentionScore: query %s, key %s and value %s must have the same dtype",
			query.Shape, key.Shape, value.Shape)
	}
	if query.Shape.IsUnknownRank() || key.Shape.IsUnknownRank() || value.Shape.IsUnknownRank() {
		return newOutput(query, shapes.MakeUnknownRank(query.DType()), nil), nil
	}
	rank, seqAxis, headDimAxis := attentionAxes(layout)
	for ii, desc := range []tensordesc.Desc{query, key, value} {
		if desc.Shape.Rank() != rank {
			return output, errors.Errorf("AttentionScore: %s must be rank-%d for layout %s, got %s",
				[]string{"query", "key", "value"}[ii], rank, layout, desc.Shape)
		}
	}
	qRange, kRange, vRange := query.Range(), key.Range(), value.Range()
	if err = checkContracting(query.Shape.Dimensions[headDimAxis], qRange[headDimAxis],
		key.Shape.Dimensions[headDimAxis], kRange[headDimAxis]); err != nil {
		return output, errors.WithMessagef(err, "AttentionScore: head dimension of query %s and key %s", query.Shape, key.Shape)
	}
	if err = checkContracting(key.Shape.Dimensions[seqAxis], kRange[seqAxis],
		value.Shape.Dimensions[seqAxis], vRange[seqAxis]); err != nil {
		return output, errors.WithMessagef(err, "AttentionScore: sequence dimension of key %s and value %s", key.Shape, value.Shape)
	}
	outShape := query.Shape.Clone()
	outRange := query.Range()
	outShape.Dimensions[rank-1], outRange[rank-1] = value.Shape.Dimensions[rank-1], vRange[rank-1]
	for axis := range rank - 1 {
		if axis == seqAxis {
			continue
		}
		dim, dimRange, bErr := Broadcast(shapes.Make(query.DType(), outShape.Dimensions[axis]), shapes.Range{outRange[axis]},
			shapes.Make(query.DType(), key.Shape.Dimensions[axis]), shapes.Range{kRange[axis]})
		if bErr != nil {
			return output, errors.WithMessagef(bErr, "AttentionScore: axis #%d of query %s and key %s", axis, query.Shape, key.Shape)
		}
		outShape.Dimensions[axis], outRange[axis] = dim.Dimensions[0], dimRange[0]
	}

	if mask.Ok() && !mask.Shape.IsUnknownRank() {
		if mask.Shape.Rank() > 4 {
			return output, errors.Errorf("AttentionScore: mask must be at most rank-4, got %s", mask.Shape)
		}
		scores := scoresShape(query, key, layout)
		if _, _, err = Broadcast(scores, shapes.DefaultRange(scores), mask.Shape.WithDType(scores.DType), mask.Range()); err != nil {
			return output, errors.WithMessagef(err, "AttentionScore: mask %s doesn't broadcast to the scores %s", mask.Shape, scores)
		}
	}
	return newOutput(query, outShape, outRange), nil
}

// scoresShape returns the shape of the attention scores Q x K^T: [B, N, S, Skv] (or [B, S, Skv] for BSH).
func scoresShape(query, key tensordesc.Desc, layout types.AttentionLayout) shapes.Shape {
	q, k := query.Shape.Dimensions, key.Shape.Dimensions
	switch layout {
	case types.LayoutBSH:
		return shapes.Make(query.DType(), q[0], q[1], k[1])
	case types.LayoutBSND:
		return shapes.Make(query.DType(), q[0], q[2], q[1], k[1])
	}
	return shapes.Make(query.DType(), q[0], q[1], q[2], k[2])
}

// DenseActivations lists the activations supported by FusedDense.
var DenseActivations = []string{"", "relu", "gelu"}

// FusedDense returns the output of activation(x x w + bias). bias is optional (invalid desc if absent),
// and activation is one of DenseActivations.
func FusedDense(x, w, bias tensordesc.Desc, transposeX, transposeW bool, activation string) (output tensordesc.Desc, err error) {
	known := false
	for _, a := range DenseActivations {
		known = known || a == activation
	}
	if !known {
		return output, errors.Errorf("FusedDense: unsupported activation %q, valid values are %q", activation, DenseActivations)
	}
	if bias.Ok() && bias.DType() != x.DType() {
		return output, errors.Errorf("FusedDense: bias %s must have the same dtype as x %s", bias.Shape, x.Shape)
	}
	output, err = MatMul(x, w, bias, transposeX, transposeW)
	if err != nil {
		return output, errors.WithMessage(err, "FusedDense")
	}
	return output, nil
}
