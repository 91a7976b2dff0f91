package shapeinference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	Bool = dtypes.Bool
	I32  = dtypes.Int32
	F32  = dtypes.Float32
	U8   = dtypes.Uint8
	U64  = dtypes.Uint64

	S = shapes.Make
	D = tensordesc.Make
)

// R builds a desc with a shape range from [min, max] pairs.
func R(desc tensordesc.Desc, pairs ...[2]int) tensordesc.Desc {
	rng := make(shapes.Range, len(pairs))
	for ii, p := range pairs {
		rng[ii] = shapes.DimRange{Min: p[0], Max: p[1]}
	}
	return desc.WithRange(rng)
}

// checkDesc verifies the shape of the desc and that it satisfies its own invariants.
func checkDesc(t *testing.T, desc tensordesc.Desc, dtype dtypes.DType, dims ...int) {
	t.Helper()
	require.NoError(t, desc.Check())
	want := S(dtype, dims...)
	assert.Truef(t, want.Equal(desc.Shape), "expected shape %s, got %s", want, desc.Shape)
}

func TestBinaryOp(t *testing.T) {
	// Invalid data types check.
	var err error
	_, err = BinaryOp(optypes.LogicalAnd, D(F32), D(F32))
	if err == nil {
		t.Error("expected error for LogicalAnd(F32, F32), got nil")
	}
	_, err = BinaryOp(optypes.Mul, D(Bool, 1), D(Bool, 1))
	if err == nil {
		t.Error("expected error for Mul(Bool, Bool), got nil")
	}
	_, err = BinaryOp(optypes.Add, D(F32, 1), D(I32, 1))
	if err == nil {
		t.Error("expected error for Add(F32, I32), got nil")
	}

	// Invalid operation type (not binary op).
	_, err = BinaryOp(optypes.Exp, D(F32), D(F32))
	if err == nil {
		t.Error("expected error for Exp(F32, F32), got nil")
	}

	// Scalars: rank-0 with an empty range.
	output := must.M1(BinaryOp(optypes.Add, D(F32), D(F32)))
	checkDesc(t, output, F32)
	assert.Empty(t, output.ShapeRange)

	// Broadcasting.
	checkDesc(t, must.M1(BinaryOp(optypes.Mul, D(F32, 2, 1, 3), D(F32, 1, 4, 3))), F32, 2, 4, 3)
	checkDesc(t, must.M1(BinaryOp(optypes.Add, D(F32), D(F32, 2, 3))), F32, 2, 3)
	checkDesc(t, must.M1(BinaryOp(optypes.Add, D(F32, 2, 3), D(F32, 3))), F32, 2, 3)
	_, err = BinaryOp(optypes.Add, D(F32, 2, 3), D(F32, 3, 2))
	if err == nil {
		t.Error("expected error for Add([2, 3], [3, 2]), got nil")
	}

	// Comparison outputs booleans.
	checkDesc(t, must.M1(BinaryOp(optypes.Less, D(I32, 5), D(I32, 5))), Bool, 5)
	checkDesc(t, must.M1(BinaryOp(optypes.LogicalOr, D(Bool, 5), D(Bool))), Bool, 5)

	// Format is taken from the operand with the larger rank.
	output = must.M1(BinaryOp(optypes.Add, D(F32, 3), D(F32, 1, 2, 2, 3).WithFormat(types.FormatNHWC)))
	assert.Equal(t, types.FormatNHWC, output.Format)
}

func TestBroadcastRanks(t *testing.T) {
	testCases := []struct {
		lhs, rhs, want []int
	}{
		{[]int{}, []int{}, []int{}},
		{[]int{5}, []int{}, []int{5}},
		{[]int{4, 1}, []int{3}, []int{4, 3}},
		{[]int{1, 1, 7}, []int{2, 3, 1}, []int{2, 3, 7}},
		{[]int{6, 1, 5}, []int{1, 4, 1}, []int{6, 4, 5}},
		{[]int{8, 1, 6, 1}, []int{7, 1, 5}, []int{8, 7, 6, 5}},
	}
	for _, tc := range testCases {
		output := must.M1(BinaryOp(optypes.Add, D(F32, tc.lhs...), D(F32, tc.rhs...)))
		require.Equal(t, max(len(tc.lhs), len(tc.rhs)), output.Shape.Rank())
		checkDesc(t, output, F32, tc.want...)
		assert.Empty(t, output.ShapeRange, "static outputs have no range")

		// Commutative.
		output = must.M1(BinaryOp(optypes.Add, D(F32, tc.rhs...), D(F32, tc.lhs...)))
		checkDesc(t, output, F32, tc.want...)
	}
}

func TestUnknownRank(t *testing.T) {
	unknown := tensordesc.UnknownRank(F32)
	for _, other := range []tensordesc.Desc{unknown, D(F32), D(F32, 2, 3), R(D(F32, -1, 3), [2]int{1, 10}, [2]int{3, 3})} {
		for _, pair := range [][2]tensordesc.Desc{{unknown, other}, {other, unknown}} {
			output := must.M1(BinaryOp(optypes.Add, pair[0], pair[1]))
			assert.True(t, output.Shape.IsUnknownRank(), "Add(%s, %s) should have unknown rank", pair[0], pair[1])
			assert.Empty(t, output.ShapeRange)
			require.NoError(t, output.Check())
		}
	}

	// Unary ops and reductions keep the unknown rank.
	assert.True(t, must.M1(UnaryOp(optypes.Relu, unknown)).Shape.IsUnknownRank())
	assert.True(t, must.M1(Reduce(unknown, []int{0}, true, false)).Shape.IsUnknownRank())
	assert.True(t, must.M1(Softmax(unknown, []int{-1})).Shape.IsUnknownRank())
	assert.True(t, must.M1(BatchMatMul(unknown, D(F32, 3, 4), false, false)).Shape.IsUnknownRank())
}

func TestShapeRangePropagation(t *testing.T) {
	t.Run("broadcast of 1", func(t *testing.T) {
		lhs := R(D(F32, -1, 16), [2]int{1, 128}, [2]int{16, 16})
		output := must.M1(BinaryOp(optypes.Add, lhs, D(F32, 1, 16)))
		checkDesc(t, output, F32, -1, 16)
		assert.Equal(t, "{[1, 128], [16, 16]}", output.ShapeRange.String())
	})

	t.Run("unknown and static", func(t *testing.T) {
		output := must.M1(BinaryOp(optypes.Add, D(F32, -1, 16), D(F32, 8, 16)))
		checkDesc(t, output, F32, 8, 16)
		assert.Empty(t, output.ShapeRange)

		_, err := BinaryOp(optypes.Add, R(D(F32, -1), [2]int{2, 4}), D(F32, 8))
		require.Error(t, err)
	})

	t.Run("both unknown", func(t *testing.T) {
		testCases := []struct {
			name     string
			lhs, rhs [2]int
			want     string
		}{
			{"intersection", [2]int{2, 10}, [2]int{5, 20}, "{[5, 10]}"},
			{"lhs may be 1", [2]int{1, 10}, [2]int{5, 20}, "{[5, 20]}"},
			{"both may be 1", [2]int{1, 10}, [2]int{1, -1}, "{[1, -1]}"},
			{"unbounded", [2]int{3, -1}, [2]int{5, 20}, "{[5, 20]}"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				output := must.M1(BinaryOp(optypes.Mul, R(D(F32, -1), tc.lhs), R(D(F32, -1), tc.rhs)))
				checkDesc(t, output, F32, -1)
				assert.Equal(t, tc.want, output.ShapeRange.String())
			})
		}
		_, err := BinaryOp(optypes.Mul, R(D(F32, -1), [2]int{2, 4}), R(D(F32, -1), [2]int{5, 8}))
		require.Error(t, err)
	})

	t.Run("default range", func(t *testing.T) {
		output := must.M1(UnaryOp(optypes.Exp, D(F32, -1, 3)))
		checkDesc(t, output, F32, -1, 3)
		assert.Equal(t, "{[1, -1], [3, 3]}", output.ShapeRange.String())
	})
}

func TestUnaryOp(t *testing.T) {
	// Invalid data types check.
	_, err := UnaryOp(optypes.LogicalNot, D(F32))
	require.Error(t, err)
	_, err = UnaryOp(optypes.Neg, D(Bool))
	require.Error(t, err)
	_, err = UnaryOp(optypes.Neg, D(U64))
	require.Error(t, err)
	_, err = UnaryOp(optypes.Sqrt, D(I32, 3))
	require.Error(t, err)

	// Invalid operation type (not unary op).
	_, err = UnaryOp(optypes.Add, D(F32))
	require.Error(t, err)

	// Scalars.
	output := must.M1(UnaryOp(optypes.Relu, D(F32)))
	checkDesc(t, output, F32)
	assert.Empty(t, output.ShapeRange)

	checkDesc(t, must.M1(UnaryOp(optypes.LogicalNot, D(Bool, 2, 3))), Bool, 2, 3)
	checkDesc(t, must.M1(UnaryOp(optypes.Abs, D(I32, 3, 3))), I32, 3, 3)
	checkDesc(t, must.M1(UnaryOp(optypes.Gelu, D(F32, 2, 3))), F32, 2, 3)

	// Cast and Identity.
	checkDesc(t, must.M1(Cast(D(I32, 4), F32)), F32, 4)
	constant := tensordesc.FromLiteral(must.M1(literal.FromFlat([]int32{1, 2}, 2)))
	assert.True(t, Identity(constant).Equal(constant))
}

func TestIdempotent(t *testing.T) {
	lhs := R(D(F32, -1, 1, 8), [2]int{1, 32}, [2]int{1, 1}, [2]int{8, 8})
	rhs := D(F32, 4, 8)
	first := must.M1(BinaryOp(optypes.Add, lhs, rhs))
	second := must.M1(BinaryOp(optypes.Add, lhs, rhs))
	assert.True(t, first.Equal(second))

	// Inputs are not modified.
	assert.Equal(t, "{[1, 32], [1, 1], [8, 8]}", lhs.ShapeRange.String())
	first.ShapeRange[0].Max = 7
	assert.Equal(t, 32, lhs.ShapeRange[0].Max)
}

func TestAddNAndBiasAdd(t *testing.T) {
	checkDesc(t, must.M1(AddN([]tensordesc.Desc{D(F32, -1, 4), D(F32, 3, -1), D(F32, 3, 4)})), F32, 3, 4)
	_, err := AddN([]tensordesc.Desc{D(F32, 2, 4), D(F32, 3, 4)})
	require.Error(t, err)
	_, err = AddN([]tensordesc.Desc{D(F32, 2), D(I32, 2)})
	require.Error(t, err)

	checkDesc(t, must.M1(BiasAdd(D(F32, 2, -1, 5), D(F32, 5), types.FormatND)), F32, 2, -1, 5)
	checkDesc(t, must.M1(BiasAdd(D(F32, 2, 3, 4, 4), D(F32, 3), types.FormatNCHW)), F32, 2, 3, 4, 4)
	checkDesc(t, must.M1(BiasAdd(D(F32, 2, -1), D(F32, 7), types.FormatND)), F32, 2, 7)
	_, err = BiasAdd(D(F32, 2, 3, 4, 4), D(F32, 4), types.FormatNCHW)
	require.Error(t, err)
	_, err = BiasAdd(D(F32, 2, 3), D(F32, 1, 3), types.FormatND)
	require.Error(t, err)
}

func TestReduce(t *testing.T) {
	operand := D(F32, 2, 3, 4)
	checkDesc(t, must.M1(Reduce(operand, []int{1}, true, false)), F32, 2, 4)
	checkDesc(t, must.M1(Reduce(operand, []int{1}, true, true)), F32, 2, 1, 4)
	checkDesc(t, must.M1(Reduce(operand, []int{-1, 0}, true, false)), F32, 3)

	// Empty axes reduce everything.
	output := must.M1(Reduce(operand, nil, true, false))
	checkDesc(t, output, F32)
	assert.Empty(t, output.ShapeRange)

	// Axes not known at compile time: unknown rank, regardless of the operand.
	for _, keepDims := range []bool{false, true} {
		output = must.M1(Reduce(operand, nil, false, keepDims))
		assert.True(t, output.Shape.IsUnknownRank())
		assert.Empty(t, output.ShapeRange)
	}

	// Errors.
	_, err := Reduce(operand, []int{0, 0}, true, false)
	require.Error(t, err)
	_, err = Reduce(operand, []int{3}, true, false)
	require.Error(t, err)
	_, err = Reduce(D(Bool, 2), []int{0}, true, false)
	require.Error(t, err)

	// Ranges of the remaining axes are kept.
	output = must.M1(Reduce(R(D(F32, -1, 3), [2]int{2, 10}, [2]int{3, 3}), []int{1}, true, false))
	checkDesc(t, output, F32, -1)
	assert.Equal(t, "{[2, 10]}", output.ShapeRange.String())

	// Axes from a desc.
	axes, known, err := ReduceAxesFromDesc(tensordesc.FromLiteral(literal.Scalar(int32(1))))
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, []int{1}, axes)
	_, known, err = ReduceAxesFromDesc(D(I32, 1))
	require.NoError(t, err)
	assert.False(t, known)
	_, _, err = ReduceAxesFromDesc(tensordesc.FromLiteral(literal.Scalar(float32(1))))
	require.Error(t, err)
}

func TestNormalization(t *testing.T) {
	checkDesc(t, must.M1(Softmax(D(F32, 2, 5), []int{-1})), F32, 2, 5)
	_, err := Softmax(D(F32, 2, 5), nil)
	require.Error(t, err)
	_, err = Softmax(D(I32, 2, 5), []int{-1})
	require.Error(t, err)
	_, err = Softmax(D(F32, 2, 5), []int{2})
	require.Error(t, err)

	y, mean, variance, err := LayerNorm(D(F32, 2, 5, 8), D(F32, 8), D(F32, 8), -1, -1)
	require.NoError(t, err)
	checkDesc(t, y, F32, 2, 5, 8)
	checkDesc(t, mean, F32, 2, 5, 1)
	checkDesc(t, variance, F32, 2, 5, 1)
	_, _, _, err = LayerNorm(D(F32, 2, 5, 8), D(F32, 7), tensordesc.Desc{}, -1, -1)
	require.Error(t, err)
	_, _, _, err = LayerNorm(D(F32, 2, 5, 8), tensordesc.Desc{}, tensordesc.Desc{}, 3, -1)
	require.Error(t, err)

	y, mask, err := Dropout(R(D(F32, -1, 4), [2]int{1, 16}, [2]int{4, 4}), 0.9)
	require.NoError(t, err)
	checkDesc(t, y, F32, -1, 4)
	checkDesc(t, mask, U8, -1, 4)
	assert.Equal(t, "{[1, 16], [4, 4]}", mask.ShapeRange.String())
	_, _, err = Dropout(D(F32, 4), 0)
	require.Error(t, err)
}

func TestMatMul(t *testing.T) {
	invalid := tensordesc.Desc{}
	checkDesc(t, must.M1(MatMul(D(F32, 2, 3), D(F32, 3, 4), invalid, false, false)), F32, 2, 4)
	checkDesc(t, must.M1(MatMul(D(F32, 3, 2), D(F32, 4, 3), invalid, true, true)), F32, 2, 4)
	checkDesc(t, must.M1(MatMul(D(F32, 2, 3), D(F32, 3, 4), D(F32, 4), false, false)), F32, 2, 4)
	_, err := MatMul(D(F32, 2, 3), D(F32, 4, 3), invalid, false, false)
	require.Error(t, err)
	_, err = MatMul(D(F32, 2, 3), D(F32, 3, 4), D(F32, 5), false, false)
	require.Error(t, err)
	_, err = MatMul(D(F32, 2, 3, 4), D(F32, 4, 4), invalid, false, false)
	require.Error(t, err)

	output := must.M1(MatMul(R(D(F32, -1, 3), [2]int{1, 64}, [2]int{3, 3}), D(F32, 3, 5), invalid, false, false))
	checkDesc(t, output, F32, -1, 5)
	assert.Equal(t, "{[1, 64], [5, 5]}", output.ShapeRange.String())

	// Unknown rank is taken as a matrix, and the bias resolves the columns.
	output = must.M1(MatMul(D(F32, 2, 3), tensordesc.UnknownRank(F32), invalid, false, false))
	checkDesc(t, output, F32, 2, -1)
	output = must.M1(MatMul(D(F32, 2, 3), tensordesc.UnknownRank(F32), D(F32, 7), false, false))
	checkDesc(t, output, F32, 2, 7)

	// Contracting dimension out of range.
	_, err = MatMul(D(F32, 2, 3), R(D(F32, -1, 4), [2]int{4, 8}, [2]int{4, 4}), invalid, false, false)
	require.Error(t, err)

	// BatchMatMul
	checkDesc(t, must.M1(BatchMatMul(D(F32, 8, 2, 3), D(F32, 3, 4), false, false)), F32, 8, 2, 4)
	checkDesc(t, must.M1(BatchMatMul(D(F32, 8, 1, 2, 3), D(F32, 4, 3, 5), false, false)), F32, 8, 4, 2, 5)
	checkDesc(t, must.M1(BatchMatMul(D(F32, 8, 3, 2), D(F32, 8, 5, 3), true, true)), F32, 8, 2, 5)
	_, err = BatchMatMul(D(F32, 8, 2, 3), D(F32, 7, 3, 4), false, false)
	require.Error(t, err)
	_, err = BatchMatMul(D(F32, 3), D(F32, 3, 4), false, false)
	require.Error(t, err)
}

func TestShapeOps(t *testing.T) {
	t.Run("Transpose", func(t *testing.T) {
		checkDesc(t, must.M1(Transpose(D(F32, 2, 3, 4), []int{2, 0, 1})), F32, 4, 2, 3)
		output := must.M1(Transpose(R(D(F32, -1, 3), [2]int{1, 9}, [2]int{3, 3}), []int{1, 0}))
		checkDesc(t, output, F32, 3, -1)
		assert.Equal(t, "{[3, 3], [1, 9]}", output.ShapeRange.String())
		checkDesc(t, must.M1(Transpose(tensordesc.UnknownRank(F32), []int{1, 0})), F32, -1, -1)
		_, err := Transpose(D(F32, 2, 3), []int{0, 0})
		require.Error(t, err)
		_, err = Transpose(D(F32, 2, 3), []int{0})
		require.Error(t, err)
	})

	t.Run("Reshape", func(t *testing.T) {
		shapeConst := func(dims ...int32) tensordesc.Desc {
			return tensordesc.FromLiteral(must.M1(literal.FromFlat(dims, len(dims))))
		}
		operand := D(F32, 2, 3, 4)
		checkDesc(t, must.M1(Reshape(operand, shapeConst(-1, 4))), F32, 6, 4)
		checkDesc(t, must.M1(Reshape(operand, shapeConst(0, -1))), F32, 2, 12)
		checkDesc(t, must.M1(Reshape(operand, shapeConst(24))), F32, 24)
		_, err := Reshape(operand, shapeConst(5, 5))
		require.Error(t, err)
		_, err = Reshape(operand, shapeConst(-1, -1))
		require.Error(t, err)
		_, err = Reshape(operand, shapeConst(-1, 5))
		require.Error(t, err)

		// Unknown shape value: rank from the length of the shape tensor.
		output := must.M1(Reshape(operand, D(I32, 3)))
		checkDesc(t, output, F32, -1, -1, -1)
		output = must.M1(Reshape(operand, D(I32, -1)))
		assert.True(t, output.Shape.IsUnknownRank())
	})

	t.Run("Shape", func(t *testing.T) {
		output := must.M1(ShapeOf(D(F32, 2, 3), I32))
		checkDesc(t, output, I32, 2)
		require.True(t, output.IsConst())
		assert.Equal(t, []int{2, 3}, must.M1(output.Value.Ints()))

		output = must.M1(ShapeOf(R(D(F32, -1, 16), [2]int{1, 128}, [2]int{16, 16}), dtypes.Int64))
		checkDesc(t, output, dtypes.Int64, 2)
		assert.False(t, output.IsConst())
		assert.Equal(t, "{[1, 128], [16, 16]}", output.ValueRange.String())

		output = must.M1(ShapeOf(tensordesc.UnknownRank(F32), I32))
		checkDesc(t, output, I32, -1)

		_, err := ShapeOf(D(F32, 2), F32)
		require.Error(t, err)
	})

	t.Run("Concat", func(t *testing.T) {
		checkDesc(t, must.M1(Concat([]tensordesc.Desc{D(F32, 2, 3), D(F32, 2, 5)}, 1)), F32, 2, 8)
		output := must.M1(Concat([]tensordesc.Desc{R(D(F32, -1, 3), [2]int{1, 4}, [2]int{3, 3}), D(F32, 2, 3)}, 0))
		checkDesc(t, output, F32, -1, 3)
		assert.Equal(t, "{[3, 6], [3, 3]}", output.ShapeRange.String())
		output = must.M1(Concat([]tensordesc.Desc{D(F32, 2, 3), tensordesc.UnknownRank(F32)}, -1))
		checkDesc(t, output, F32, 2, -1)
		_, err := Concat([]tensordesc.Desc{D(F32, 2, 3), D(F32, 3, 3)}, 1)
		require.Error(t, err)
		_, err = Concat([]tensordesc.Desc{D(F32, 2, 3), D(I32, 2, 3)}, 1)
		require.Error(t, err)
	})

	t.Run("ExpandDims and Squeeze", func(t *testing.T) {
		checkDesc(t, must.M1(ExpandDims(D(F32, 2, 3), -1)), F32, 2, 3, 1)
		checkDesc(t, must.M1(ExpandDims(D(F32, 2, 3), 0)), F32, 1, 2, 3)
		_, err := ExpandDims(D(F32, 2, 3), 3)
		require.Error(t, err)

		checkDesc(t, must.M1(Squeeze(D(F32, 1, 3, 1), nil)), F32, 3)
		checkDesc(t, must.M1(Squeeze(D(F32, 1, 3, 1), []int{0})), F32, 3, 1)
		assert.True(t, must.M1(Squeeze(D(F32, 1, -1), nil)).Shape.IsUnknownRank())
		_, err = Squeeze(D(F32, 1, 3, 1), []int{1})
		require.Error(t, err)

		// Values are reshaped along.
		constant := tensordesc.FromLiteral(must.M1(literal.FromFlat([]int32{7, 8}, 2)))
		output := must.M1(ExpandDims(constant, 0))
		require.True(t, output.IsConst())
		assert.True(t, S(I32, 1, 2).Equal(output.Value.Shape()))
	})
}

func TestValueRange(t *testing.T) {
	x := R(D(F32, -1, 16), [2]int{1, 128}, [2]int{16, 16})
	shapeOfX := must.M1(ShapeOf(x, I32))

	// Shape(x) * [1, 2]
	factors := tensordesc.FromLiteral(must.M1(literal.FromFlat([]int32{1, 2}, 2)))
	scaled := must.M1(BinaryOp(optypes.Mul, shapeOfX, factors))
	assert.Equal(t, "{[1, 128], [32, 32]}", scaled.ValueRange.String())

	// Shape(x) + Shape(x)
	doubled := must.M1(BinaryOp(optypes.Add, shapeOfX, shapeOfX))
	assert.Equal(t, "{[2, 256], [32, 32]}", doubled.ValueRange.String())

	// Maximum and Minimum with a scalar.
	eight := tensordesc.FromLiteral(literal.Scalar(int32(8)))
	assert.Equal(t, "{[8, 128], [16, 16]}", must.M1(BinaryOp(optypes.Maximum, shapeOfX, eight)).ValueRange.String())
	assert.Equal(t, "{[1, 8], [8, 8]}", must.M1(BinaryOp(optypes.Minimum, shapeOfX, eight)).ValueRange.String())

	// No formula for Sub.
	assert.Empty(t, must.M1(BinaryOp(optypes.Sub, shapeOfX, shapeOfX)).ValueRange)

	// Reshape uses the value range: exact values become dimensions.
	output := must.M1(Reshape(D(F32, -1), scaled))
	checkDesc(t, output, F32, -1, 32)
	assert.Equal(t, "{[1, 128], [32, 32]}", output.ShapeRange.String())

	// Unbounded values stay unbounded.
	unbounded := must.M1(ShapeOf(D(F32, -1, 4), I32))
	assert.Equal(t, "{[1, -1], [4, 4]}", unbounded.ValueRange.String())
	assert.Equal(t, "{[2, -1], [8, 8]}", must.M1(BinaryOp(optypes.Add, unbounded, unbounded)).ValueRange.String())

	r, ok := CombineValueRanges(optypes.Mul, shapes.DimRange{Min: 0, Max: 0}, shapes.DimRange{Min: 3, Max: shapes.Unbounded})
	require.True(t, ok)
	assert.Equal(t, shapes.Exact(0), r)
}

func TestDynamicRNN(t *testing.T) {
	invalid := tensordesc.Desc{}
	outputs := must.M1(DynamicRNN(D(F32, 10, 4, 32), D(F32, 96, 256), D(F32, 256), invalid, invalid))
	require.Len(t, outputs, len(DynamicRNNOutputs))
	for _, output := range outputs {
		checkDesc(t, output, F32, 10, 4, 64)
	}

	outputs = must.M1(DynamicRNN(R(D(F32, -1, 4, 32), [2]int{1, 50}, [2]int{4, 4}, [2]int{32, 32}),
		D(F32, 96, 256), D(F32, 256), D(F32, 1, 4, 64), invalid))
	checkDesc(t, outputs[0], F32, -1, 4, 64)
	assert.Equal(t, "{[1, 50], [4, 4], [64, 64]}", outputs[0].ShapeRange.String())

	// Hidden size from b when w is not known.
	outputs = must.M1(DynamicRNN(D(F32, 10, 4, 32), tensordesc.UnknownRank(F32), D(F32, 256), invalid, invalid))
	checkDesc(t, outputs[7], F32, 10, 4, 64)

	_, err := DynamicRNN(D(F32, 10, 4, 32), D(F32, 100, 256), D(F32, 256), invalid, invalid)
	require.Error(t, err)
	_, err = DynamicRNN(D(F32, 10, 4, 32), D(F32, 96, 256), D(F32, 128), invalid, invalid)
	require.Error(t, err)
	_, err = DynamicRNN(D(F32, 10, 4, 32), D(F32, 96, 256), D(F32, 256), D(F32, 1, 4, 32), invalid)
	require.Error(t, err)
	_, err = DynamicRNN(D(F32, 10, 32), D(F32, 96, 256), D(F32, 256), invalid, invalid)
	require.Error(t, err)
}
