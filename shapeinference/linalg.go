package shapeinference

import (
	"slices"

	"github.com/gomlx/opgraph/internal/optypes"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/gomlx/opgraph/types/tensordesc"
	"github.com/pkg/errors"
)

// checkContracting verifies that two contracting dimensions can match at runtime.
func checkContracting(lhsDim int, lhsRange shapes.DimRange, rhsDim int, rhsRange shapes.DimRange) error {
	switch {
	case lhsDim != shapes.UnknownDim && rhsDim != shapes.UnknownDim:
		if lhsDim != rhsDim {
			return errors.Errorf("contracting dimensions %d and %d don't match", lhsDim, rhsDim)
		}
	case lhsDim != shapes.UnknownDim:
		if !rhsRange.Contains(lhsDim) {
			return errors.Errorf("contracting dimension %d is out of the range %s of the other operand", lhsDim, rhsRange)
		}
	case rhsDim != shapes.UnknownDim:
		if !lhsRange.Contains(rhsDim) {
			return errors.Errorf("contracting dimension %d is out of the range %s of the other operand", rhsDim, lhsRange)
		}
	default:
		if _, ok := lhsRange.Intersect(rhsRange); !ok {
			return errors.Errorf("contracting dimension ranges %s and %s don't overlap", lhsRange, rhsRange)
		}
	}
	return nil
}

// matrixAxes returns the dimension/range of rows and columns of the last 2 axes of a desc, after
// an optional transposition.
func matrixAxes(desc tensordesc.Desc, transpose bool) (rows, cols int, rowsRange, colsRange shapes.DimRange) {
	rank := desc.Shape.Rank()
	rng := desc.Range()
	rows, cols = desc.Shape.Dimensions[rank-2], desc.Shape.Dimensions[rank-1]
	rowsRange, colsRange = rng[rank-2], rng[rank-1]
	if transpose {
		rows, cols = cols, rows
		rowsRange, colsRange = colsRange, rowsRange
	}
	return
}

// MatMul returns the output of the matrix multiplication of x1 [M, K] and x2 [K, N], optionally transposed,
// plus an optional bias [N] (pass an invalid desc if there is no bias).
//
// Inputs of unknown rank are assumed to be matrices with unknown dimensions.
func MatMul(x1, x2, bias tensordesc.Desc, transposeX1, transposeX2 bool) (output tensordesc.Desc, err error) {
	if x1.DType() != x2.DType() {
		return output, errors.Errorf("MatMul requires inputs of the same dtype, got %s and %s", x1.Shape, x2.Shape)
	}
	if err = checkDType(optypes.MatMul, x1); err != nil {
		return
	}
	for ii, x := range []*tensordesc.Desc{&x1, &x2} {
		if x.Shape.IsUnknownRank() {
			*x = tensordesc.Make(x.DType(), shapes.UnknownDim, shapes.UnknownDim)
		}
		if x.Shape.Rank() != 2 {
			return output, errors.Errorf("MatMul requires rank-2 inputs, got x%d=%s", ii+1, x.Shape)
		}
	}
	m, k1, mRange, k1Range := matrixAxes(x1, transposeX1)
	k2, n, k2Range, nRange := matrixAxes(x2, transposeX2)
	if err = checkContracting(k1, k1Range, k2, k2Range); err != nil {
		return output, errors.WithMessagef(err, "MatMul(%s, %s, transpose_x1=%v, transpose_x2=%v)", x1.Shape, x2.Shape, transposeX1, transposeX2)
	}
	if bias.Ok() && !bias.Shape.IsUnknownRank() {
		if bias.Shape.Rank() != 1 || !bias.Shape.Compatible(shapes.Make(bias.DType(), n)) {
			return output, errors.Errorf("MatMul: bias %s must be a vector of dimension %d", bias.Shape, n)
		}
		if n == shapes.UnknownDim && bias.Shape.Dimensions[0] != shapes.UnknownDim {
			n, nRange = bias.Shape.Dimensions[0], shapes.Exact(bias.Shape.Dimensions[0])
		}
	}
	return newOutput(x1, shapes.Make(x1.DType(), m, n), shapes.Range{mRange, nRange}), nil
}

// BatchMatMul returns the output of a batch matrix multiplication: the last 2 axes of x1 and x2 are
// multiplied as matrices (optionally adjointed), and the leading batch axes are broadcast.
func BatchMatMul(x1, x2 tensordesc.Desc, adjX1, adjX2 bool) (output tensordesc.Desc, err error) {
	if x1.DType() != x2.DType() {
		return output, errors.Errorf("BatchMatMul requires inputs of the same dtype, got %s and %s", x1.Shape, x2.Shape)
	}
	if err = checkDType(optypes.BatchMatMul, x1); err != nil {
		return
	}
	if x1.Shape.IsUnknownRank() || x2.Shape.IsUnknownRank() {
		return newOutput(x1, shapes.MakeUnknownRank(x1.DType()), nil), nil
	}
	if x1.Shape.Rank() < 2 || x2.Shape.Rank() < 2 {
		return output, errors.Errorf("BatchMatMul requires inputs of rank >= 2, got %s and %s", x1.Shape, x2.Shape)
	}
	m, k1, mRange, k1Range := matrixAxes(x1, adjX1)
	k2, n, k2Range, nRange := matrixAxes(x2, adjX2)
	if err = checkContracting(k1, k1Range, k2, k2Range); err != nil {
		return output, errors.WithMessagef(err, "BatchMatMul(%s, %s, adj_x1=%v, adj_x2=%v)", x1.Shape, x2.Shape, adjX1, adjX2)
	}

	batch1 := shapes.Shape{DType: x1.DType(), Dimensions: slices.Clone(x1.Shape.Dimensions[:x1.Shape.Rank()-2])}
	batch2 := shapes.Shape{DType: x2.DType(), Dimensions: slices.Clone(x2.Shape.Dimensions[:x2.Shape.Rank()-2])}
	batch, batchRange, err := Broadcast(batch1, x1.Range()[:batch1.Rank()], batch2, x2.Range()[:batch2.Rank()])
	if err != nil {
		return output, errors.WithMessagef(err, "BatchMatMul(%s, %s): batch axes", x1.Shape, x2.Shape)
	}
	outShape := shapes.Make(x1.DType(), append(batch.Dimensions, m, n)...)
	outRange := append(batchRange.Clone(), mRange, nRange)
	return newOutput(x1, outShape, outRange), nil
}
