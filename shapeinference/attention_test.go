package shapeinference

import (
	"testing"

	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiHeadAttention(t *testing.T) {
	query, kv := D(F32, 2, 128, 1024), D(F32, 2, 64, 1024)
	y, probs, err := MultiHeadAttention(query, kv, kv, 16)
	require.NoError(t, err)
	checkDesc(t, y, F32, 2, 128, 1024)
	checkDesc(t, probs, F32, 2, 16, 128, 64)

	// Unknown number of heads.
	_, probs, err = MultiHeadAttention(query, kv, kv, -1)
	require.NoError(t, err)
	checkDesc(t, probs, F32, 2, -1, 128, 64)
	assert.Equal(t, "{[2, 2], [1, -1], [128, 128], [64, 64]}", probs.ShapeRange.String())

	// Unknown dimensions are resolved from the other inputs.
	y, _, err = MultiHeadAttention(D(F32, -1, 128, -1), kv, tensordesc.UnknownRank(F32), 16)
	require.NoError(t, err)
	checkDesc(t, y, F32, 2, 128, 1024)

	_, _, err = MultiHeadAttention(query, D(F32, 2, 64, 512), kv, 16)
	require.Error(t, err)
	_, _, err = MultiHeadAttention(query, kv, D(F32, 2, 32, 1024), 16)
	require.Error(t, err)
	_, _, err = MultiHeadAttention(D(F32, 128, 1024), kv, kv, 16)
	require.Error(t, err)
	_, _, err = MultiHeadAttention(D(I32, 2, 128, 1024), D(I32, 2, 64, 1024), D(I32, 2, 64, 1024), 16)
	require.Error(t, err)

	// Head number consistency.
	require.NoError(t, CheckHeadNum(query, 16))
	require.Error(t, CheckHeadNum(query, -1))
	require.Error(t, CheckHeadNum(query, 0))
	require.Error(t, CheckHeadNum(query, 17))
	require.NoError(t, CheckHeadNum(D(F32, 2, 128, -1), 17))
}

func TestMultiHeadAttentionGrad(t *testing.T) {
	x := R(D(F32, -1, 128, 1024), [2]int{1, 32}, [2]int{128, 128}, [2]int{1024, 1024})
	queryGrad, keyGrad, valueGrad, err := MultiHeadAttentionGrad(x, x, x, x)
	require.NoError(t, err)
	for _, grad := range []tensordesc.Desc{queryGrad, keyGrad, valueGrad} {
		checkDesc(t, grad, F32, -1, 128, 1024)
		assert.Equal(t, "{[1, 32], [128, 128], [1024, 1024]}", grad.ShapeRange.String())
	}
	_, _, _, err = MultiHeadAttentionGrad(x, x, x, D(F32, 2, 64, 1024))
	require.Error(t, err)

	xGrad := must.M1(SelfAttentionGrad(x, x))
	assert.True(t, xGrad.Equal(queryGrad))

	y, mean, variance, probs, err := MultiHeadAttentionLayerNorm(D(F32, 2, 128, 1024), D(F32, 2, 128, 1024), D(F32, 2, 128, 1024),
		D(F32, 1024), D(F32, 1024), 16, -1, -1)
	require.NoError(t, err)
	checkDesc(t, y, F32, 2, 128, 1024)
	checkDesc(t, mean, F32, 2, 128, 1)
	checkDesc(t, variance, F32, 2, 128, 1)
	checkDesc(t, probs, F32, 2, 16, 128, 128)
}

func TestAttentionScore(t *testing.T) {
	invalid := tensordesc.Desc{}
	query := D(F32, 2, 16, 128, 64)
	key := D(F32, 2, 16, 256, 64)
	value := D(F32, 2, 16, 256, 32)
	checkDesc(t, must.M1(AttentionScore(query, key, value, invalid, types.LayoutBNSD)), F32, 2, 16, 128, 32)
	checkDesc(t, must.M1(AttentionScore(query, key, value, D(F32, 2, 1, 128, 256), types.LayoutBNSD)), F32, 2, 16, 128, 32)
	_, err := AttentionScore(query, key, value, D(F32, 2, 1, 128, 100), types.LayoutBNSD)
	require.Error(t, err)

	// Shared key/value heads are broadcast.
	checkDesc(t, must.M1(AttentionScore(D(F32, 2, -1, 128, 64), D(F32, 2, 1, 256, 64), D(F32, 2, 1, 256, 64), invalid, types.LayoutBNSD)),
		F32, 2, -1, 128, 64)

	// Other layouts.
	checkDesc(t, must.M1(AttentionScore(D(F32, 2, 128, 1024), D(F32, 2, 256, 1024), D(F32, 2, 256, 1024), invalid, types.LayoutBSH)),
		F32, 2, 128, 1024)
	checkDesc(t, must.M1(AttentionScore(D(F32, 2, 128, 16, 64), D(F32, 2, 256, 16, 64), D(F32, 2, 256, 16, 64), invalid, types.LayoutBSND)),
		F32, 2, 128, 16, 64)

	// Errors.
	_, err = AttentionScore(query, D(F32, 2, 16, 256, 32), value, invalid, types.LayoutBNSD)
	require.Error(t, err)
	_, err = AttentionScore(query, key, D(F32, 2, 16, 128, 32), invalid, types.LayoutBNSD)
	require.Error(t, err)
	_, err = AttentionScore(D(F32, 2, 128, 1024), key, value, invalid, types.LayoutBNSD)
	require.Error(t, err)
	assert.True(t, must.M1(AttentionScore(tensordesc.UnknownRank(F32), key, value, invalid, types.LayoutBNSD)).Shape.IsUnknownRank())
}

func TestFusedDense(t *testing.T) {
	invalid := tensordesc.Desc{}
	checkDesc(t, must.M1(FusedDense(D(F32, 4, 8), D(F32, 8, 16), D(F32, 16), false, false, "relu")), F32, 4, 16)
	checkDesc(t, must.M1(FusedDense(D(F32, 4, 8), D(F32, 16, 8), invalid, false, true, "")), F32, 4, 16)
	_, err := FusedDense(D(F32, 4, 8), D(F32, 8, 16), invalid, false, false, "tanh")
	require.Error(t, err)
	_, err = FusedDense(D(F32, 4, 8), D(F32, 8, 16), D(I32, 16), false, false, "gelu")
	require.Error(t, err)
}
