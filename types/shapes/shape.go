// Package shapes defines Shape, the dimensions and dtype of a tensor slot in a graph, including
// the symbolic markers used while shapes are only partially known.
//
// A dimension is either a concrete size (>= 0) or UnknownDim (-1), a dimension only known at runtime.
// A shape whose rank itself is unknown is represented by the single-element sentinel list
// []int{UnknownRank} (-2), see MakeUnknownRank.
//
// Each dynamic dimension can be bounded by a DimRange, and a Range holds one DimRange per axis.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension.
//   - Dimension: the size of a tensor in one of its axes, or UnknownDim.
//   - Scalar: a shape with rank 0.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// UnknownDim marks a dimension whose size is only known at runtime.
	UnknownDim = -1

	// UnknownRank is the single-element dimension list marker for a shape whose rank is not known.
	UnknownRank = -2
)

// Shape represents the shape of a tensor described by a graph slot.
//
// Use Make or MakeUnknownRank to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions.
// Dimensions may be UnknownDim, but not UnknownRank: use MakeUnknownRank for that.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < UnknownDim {
			exceptions.Panicf("shapes.Make(%s): invalid dimension %d, use MakeUnknownRank for shapes of unknown rank", s, dim)
		}
	}
	return s
}

// MakeUnknownRank returns a shape of the given dtype whose rank is not known.
func MakeUnknownRank(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, Dimensions: []int{UnknownRank}}
}

// FromDimensions is like Make, but it accepts the UnknownRank sentinel list and returns an error
// instead of panicking. Used when dimensions come from user input.
func FromDimensions(dtype dtypes.DType, dimensions []int) (Shape, error) {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	if err := s.Check(); err != nil {
		return Invalid(), err
	}
	return s, nil
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Check validates the dimensions: each must be a concrete size or UnknownDim, or the whole list
// must be the single UnknownRank sentinel.
func (s Shape) Check() error {
	for axis, dim := range s.Dimensions {
		if dim == UnknownRank {
			if len(s.Dimensions) != 1 {
				return errors.Errorf("shape %v: unknown rank marker (%d) cannot be mixed with other dimensions", s.Dimensions, UnknownRank)
			}
			continue
		}
		if dim < UnknownDim {
			return errors.Errorf("shape %v: invalid dimension %d for axis #%d", s.Dimensions, dim, axis)
		}
	}
	return nil
}

// IsUnknownRank returns whether the rank of the shape is not known.
func (s Shape) IsUnknownRank() bool {
	return len(s.Dimensions) == 1 && s.Dimensions[0] == UnknownRank
}

// Rank of the shape, that is, the number of dimensions. It returns -1 if the rank is unknown.
func (s Shape) Rank() int {
	if s.IsUnknownRank() {
		return -1
	}
	return len(s.Dimensions)
}

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && len(s.Dimensions) == 0 }

// IsDynamic returns whether the rank or any of the dimensions is not known.
func (s Shape) IsDynamic() bool {
	return s.IsUnknownRank() || slices.Contains(s.Dimensions, UnknownDim)
}

// IsStatic returns whether all dimensions are known.
func (s Shape) IsStatic() bool { return !s.IsDynamic() }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// It panics for an out-of-bound axis or if the rank is unknown.
func (s Shape) Dim(axis int) int {
	if s.IsUnknownRank() {
		exceptions.Panicf("Shape.Dim(%d) called on shape with unknown rank (%s)", axis, s)
	}
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// String implements fmt.Stringer, pretty-prints the shape.
// Unknown dimensions are printed as "?" and unknown rank as "[...]".
func (s Shape) String() string {
	if s.IsUnknownRank() {
		return fmt.Sprintf("(%s)[...]", s.DType)
	}
	if len(s.Dimensions) == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts[ii] = "?"
		} else {
			parts[ii] = fmt.Sprintf("%d", dim)
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Size returns the number of elements of the shape, the product of all dimensions.
// It returns -1 if the shape is dynamic.
func (s Shape) Size() (size int) {
	if s.IsDynamic() {
		return -1
	}
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes needed to store a tensor of this shape, or 0 if the shape is dynamic.
func (s Shape) Memory() uintptr {
	size := s.Size()
	if size < 0 {
		return 0
	}
	return s.DType.Memory() * uintptr(size)
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
// Unknown dimensions only compare equal to unknown dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return s.EqualDimensions(s2)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Compatible returns whether the two shapes could describe the same tensor at runtime:
// either rank is unknown, or ranks match and each pair of dimensions is equal or one of them is unknown.
func (s Shape) Compatible(s2 Shape) bool {
	if s.IsUnknownRank() || s2.IsUnknownRank() {
		return true
	}
	if len(s.Dimensions) != len(s2.Dimensions) {
		return false
	}
	for axis, dim := range s.Dimensions {
		dim2 := s2.Dimensions[axis]
		if dim != dim2 && dim != UnknownDim && dim2 != UnknownDim {
			return false
		}
	}
	return true
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// WithDType returns a copy of the shape with the dtype replaced.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}
