// Package tensordesc defines Desc, the metadata of one tensor slot of a graph node: its shape,
// dtype, layout and the ranges known about its dimensions and values.
package tensordesc

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/types"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/pkg/errors"
)

// Desc describes a tensor slot.
//
// Descs are owned by the slot declaring them: use Clone when propagating them.
type Desc struct {
	// Shape holds the dimensions and the dtype.
	Shape shapes.Shape

	// OriginShape is the shape before any layout transformation, usually equal to Shape.
	OriginShape shapes.Shape

	Format, OriginFormat types.Format

	// ShapeRange bounds each dynamic dimension of Shape. It is empty for shapes of unknown rank, and
	// may be empty for static shapes.
	ShapeRange shapes.Range

	// ValueRange optionally bounds each value of a small integer tensor (e.g. the output of a Shape op
	// on a dynamic input). It has one entry per element of the tensor.
	ValueRange shapes.Range

	// Value holds the contents of the tensor, if it is known at compile time.
	Value *literal.Literal
}

// New creates a Desc for the given shape, in FormatND, with no ranges.
func New(shape shapes.Shape) Desc {
	return Desc{Shape: shape.Clone(), OriginShape: shape.Clone()}
}

// Make is a shortcut to New(shapes.Make(dtype, dimensions...)).
func Make(dtype dtypes.DType, dimensions ...int) Desc {
	return New(shapes.Make(dtype, dimensions...))
}

// UnknownRank creates a Desc with unknown rank.
func UnknownRank(dtype dtypes.DType) Desc {
	return New(shapes.MakeUnknownRank(dtype))
}

// FromLiteral creates the Desc of a constant.
func FromLiteral(l *literal.Literal) Desc {
	d := New(l.Shape())
	d.Value = l.Clone()
	return d
}

// WithRange returns a copy of the desc with the shape range set.
func (d Desc) WithRange(rng shapes.Range) Desc {
	d2 := d.Clone()
	d2.ShapeRange = rng.Clone()
	return d2
}

// WithFormat returns a copy of the desc with both Format and OriginFormat set.
func (d Desc) WithFormat(format types.Format) Desc {
	d2 := d.Clone()
	d2.Format, d2.OriginFormat = format, format
	return d2
}

// DType of the tensor.
func (d Desc) DType() dtypes.DType { return d.Shape.DType }

// Ok returns whether the desc has been set.
func (d Desc) Ok() bool { return d.Shape.Ok() }

// Range returns the shape range, or the range implied by the shape if none was set.
func (d Desc) Range() shapes.Range {
	return shapes.RangeOrDefault(d.Shape, d.ShapeRange)
}

// IsConst returns whether the value of the tensor is known.
func (d Desc) IsConst() bool { return d.Value != nil }

// Clone returns a deep copy.
func (d Desc) Clone() Desc {
	return Desc{
		Shape:        d.Shape.Clone(),
		OriginShape:  d.OriginShape.Clone(),
		Format:       d.Format,
		OriginFormat: d.OriginFormat,
		ShapeRange:   d.ShapeRange.Clone(),
		ValueRange:   d.ValueRange.Clone(),
		Value:        d.Value.Clone(),
	}
}

// Equal compares all fields.
func (d Desc) Equal(d2 Desc) bool {
	return d.Shape.Equal(d2.Shape) &&
		d.OriginShape.Equal(d2.OriginShape) &&
		d.Format == d2.Format && d.OriginFormat == d2.OriginFormat &&
		d.ShapeRange.Equal(d2.ShapeRange) &&
		d.ValueRange.Equal(d2.ValueRange) &&
		d.Value.Equal(d2.Value)
}

// Check validates the invariants of the desc: valid dimensions and ranges consistent with the shape.
func (d Desc) Check() error {
	if err := d.Shape.Check(); err != nil {
		return err
	}
	if err := d.ShapeRange.Check(d.Shape); err != nil {
		return err
	}
	if d.Value != nil && !d.Value.Shape().Equal(d.Shape) {
		return errors.Errorf("value of shape %s doesn't match desc shape %s", d.Value.Shape(), d.Shape)
	}
	if len(d.ValueRange) > 0 {
		if size := d.Shape.Size(); size >= 0 && size != len(d.ValueRange) {
			return errors.Errorf("value range %s has %d entries, but shape %s has %d elements", d.ValueRange, len(d.ValueRange), d.Shape, size)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (d Desc) String() string {
	var sb strings.Builder
	sb.WriteString(d.Shape.String())
	if d.Format != types.FormatND {
		fmt.Fprintf(&sb, "{%s}", d.Format)
	}
	if len(d.ShapeRange) > 0 {
		fmt.Fprintf(&sb, " range=%s", d.ShapeRange)
	}
	if len(d.ValueRange) > 0 {
		fmt.Fprintf(&sb, " values=%s", d.ValueRange)
	}
	if d.Value != nil {
		sb.WriteString(" const")
	}
	return sb.String()
}
