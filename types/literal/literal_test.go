package literal

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromValue(t *testing.T) {
	l := must.M1(FromValue([][]int32{{0, 1, 2}, {3, 4, 5}}))
	assert.Equal(t, dtypes.Int32, l.DType())
	assert.Equal(t, []int{2, 3}, l.Shape().Dimensions)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5}, l.Flat())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, must.M1(l.Ints()))

	scalar := must.M1(FromValue(float32(0.125)))
	assert.True(t, scalar.Shape().IsScalar())
	assert.Equal(t, 0.125, must.M1(scalar.ScalarFloat()))

	// Irregular shapes are not accepted.
	_, err := FromValue([][]float32{{1, 2, 3}, {4, 5}})
	require.Error(t, err)
	_, err = FromValue([]string{"a"})
	require.Error(t, err)
	_, err = FromValue(nil)
	require.Error(t, err)
}

func TestFromFlat(t *testing.T) {
	l := must.M1(FromFlat([]int64{1, -1, 3}, 3))
	assert.Equal(t, []int{1, -1, 3}, must.M1(l.Ints()))
	_, err := FromFlat([]int64{1, 2, 3}, 2)
	require.Error(t, err)
	_, err = FromFlat([]int64{1, 2, 3}, -1)
	require.Error(t, err)

	_, err = Scalar(float32(1.5)).Ints()
	require.Error(t, err)
}

func TestHalfPrecision(t *testing.T) {
	f16 := Scalar(float16.Fromfloat32(0.5))
	assert.Equal(t, dtypes.Float16, f16.DType())
	assert.Equal(t, 0.5, must.M1(f16.ScalarFloat()))

	bf16 := must.M1(FromFlat([]bfloat16.BFloat16{bfloat16.FromFloat32(2), bfloat16.FromFloat32(-4)}, 2))
	assert.Equal(t, []float64{2, -4}, must.M1(bf16.Float64s()))
	_, err := bf16.ScalarFloat()
	require.Error(t, err)
}

func TestClone(t *testing.T) {
	flat := []float32{1, 2, 3, 4}
	l := must.M1(FromFlat(flat, 2, 2))
	flat[0] = 100
	assert.Equal(t, []float32{1, 2, 3, 4}, l.Flat(), "FromFlat must copy the values")

	l2 := l.Clone()
	require.True(t, l.Equal(l2))
	l2.Flat().([]float32)[0] = 7
	assert.False(t, l.Equal(l2))
	assert.Nil(t, (*Literal)(nil).Clone())
}
