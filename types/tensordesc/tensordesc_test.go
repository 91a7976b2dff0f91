package tensordesc

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClone(t *testing.T) {
	d := Make(dtypes.Float32, shapes.UnknownDim, 16).
		WithRange(shapes.Range{{1, 128}, {16, 16}}).
		WithFormat(types.FormatNHWC)
	d2 := d.Clone()
	require.True(t, d.Equal(d2))

	// Mutating the clone must not change the original.
	d2.Shape.Dimensions[0] = 8
	d2.ShapeRange[0].Max = 8
	assert.Equal(t, shapes.UnknownDim, d.Shape.Dimensions[0])
	assert.Equal(t, 128, d.ShapeRange[0].Max)
	assert.False(t, d.Equal(d2))
	assert.Equal(t, "(Float32)[? 16]{NHWC} range={[1, 128], [16, 16]}", d.String())
}

func TestCheck(t *testing.T) {
	require.NoError(t, Make(dtypes.Float32, 2, 3).Check())
	require.NoError(t, UnknownRank(dtypes.Float32).Check())

	bad := UnknownRank(dtypes.Float32)
	bad.ShapeRange = shapes.Range{{1, 2}}
	require.Error(t, bad.Check())

	bad = Make(dtypes.Int32, 2)
	bad.ValueRange = shapes.Range{{1, 2}}
	require.Error(t, bad.Check())

	c := FromLiteral(must.M1(literal.FromValue([]int32{0, 2})))
	require.NoError(t, c.Check())
	assert.True(t, c.IsConst())
	c.Shape = shapes.Make(dtypes.Int32, 3)
	require.Error(t, c.Check())
}

func TestRange(t *testing.T) {
	d := Make(dtypes.Float32, shapes.UnknownDim, 4)
	assert.Equal(t, shapes.Range{{1, shapes.Unbounded}, {4, 4}}, d.Range())
	d.ShapeRange = shapes.Range{{2, 8}, {4, 4}}
	assert.Equal(t, shapes.Range{{2, 8}, {4, 4}}, d.Range())
}
