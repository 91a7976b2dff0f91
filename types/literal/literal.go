// Package literal holds constant host values attached to graph nodes: the "value" of Const operators and
// constant-folded tensors whose contents inference can read (e.g. reduction axes, reshape targets).
package literal

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/opgraph/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Literal is a constant tensor: a static shape and its values stored in a flat slice of the Go type
// matching the dtype (e.g. []float32 for Float32, []float16.Float16 for Float16).
type Literal struct {
	shape shapes.Shape
	flat  any
}

// FromFlat creates a Literal from a flat slice of values and the dimensions of its shape.
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) (*Literal, error) {
	dtype := dtypes.FromGenericsType[T]()
	shape, err := shapes.FromDimensions(dtype, dimensions)
	if err != nil {
		return nil, err
	}
	if shape.IsDynamic() {
		return nil, errors.Errorf("literal shape must be static, got %s", shape)
	}
	if shape.Size() != len(flat) {
		return nil, errors.Errorf("flat values size %d doesn't match shape size %d (%s)", len(flat), shape.Size(), shape)
	}
	return &Literal{shape: shape, flat: append([]T(nil), flat...)}, nil
}

// Scalar creates a scalar Literal.
func Scalar[T dtypes.Supported](value T) *Literal {
	return &Literal{shape: shapes.Make(dtypes.FromGenericsType[T]()), flat: []T{value}}
}

// FromValue converts a Go value to a Literal. Accepted values are scalars of supported dtypes or
// (multi-level) slices of them with regular shapes.
//
// Example:
//
//	l, err := literal.FromValue([][]int32{{0, 1}, {2, 3}}) // Shape (Int32)[2 2]
func FromValue(v any) (*Literal, error) {
	if l, ok := v.(*Literal); ok {
		return l.Clone(), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.New("cannot create a literal from nil")
	}
	var dims []int
	elemType := rv.Type()
	for elemType.Kind() == reflect.Slice {
		dims = append(dims, 0)
		elemType = elemType.Elem()
	}
	dtype := dtypes.FromGoType(elemType)
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("cannot convert type %T to a literal (maybe type not supported yet?)", v)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(elemType), 0, 1)
	if err := flattenRecursive(rv, 0, dims, &flat); err != nil {
		return nil, errors.WithMessagef(err, "converting %T to a literal", v)
	}
	return &Literal{shape: shapes.Make(dtype, dims...), flat: flat.Interface()}, nil
}

func flattenRecursive(v reflect.Value, level int, dims []int, flat *reflect.Value) error {
	if level == len(dims) {
		*flat = reflect.Append(*flat, v)
		return nil
	}
	if v.Len() == 0 {
		return errors.Errorf("empty slice at level %d: inner dimensions cannot be determined", level)
	}
	if dims[level] == 0 {
		dims[level] = v.Len()
	} else if dims[level] != v.Len() {
		return errors.Errorf("sub-slices have irregular shapes: found length %d and %d at level %d", dims[level], v.Len(), level)
	}
	for ii := range v.Len() {
		if err := flattenRecursive(v.Index(ii), level+1, dims, flat); err != nil {
			return err
		}
	}
	return nil
}

// Shape returns the shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// DType returns the dtype of the literal.
func (l *Literal) DType() dtypes.DType { return l.shape.DType }

// Size returns the number of elements.
func (l *Literal) Size() int { return reflect.ValueOf(l.flat).Len() }

// Flat returns the flat slice of values. It must not be modified.
func (l *Literal) Flat() any { return l.flat }

// Clone returns a deep copy of the literal.
func (l *Literal) Clone() *Literal {
	if l == nil {
		return nil
	}
	rv := reflect.ValueOf(l.flat)
	flat := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(flat, rv)
	return &Literal{shape: l.shape.Clone(), flat: flat.Interface()}
}

// Equal returns whether both literals have the same shape and values.
func (l *Literal) Equal(l2 *Literal) bool {
	if l == nil || l2 == nil {
		return l == l2
	}
	return l.shape.Equal(l2.shape) && reflect.DeepEqual(l.flat, l2.flat)
}

// String implements fmt.Stringer.
func (l *Literal) String() string {
	if l == nil {
		return "<nil>"
	}
	if l.shape.IsScalar() {
		return fmt.Sprintf("%s{%v}", l.shape, reflect.ValueOf(l.flat).Index(0).Interface())
	}
	return fmt.Sprintf("%s%v", l.shape, l.flat)
}

// Ints returns the values converted to int. It fails for non-integer dtypes.
func (l *Literal) Ints() ([]int, error) {
	rv := reflect.ValueOf(l.flat)
	out := make([]int, rv.Len())
	switch {
	case l.DType().IsInt() && !l.DType().IsUnsigned():
		for ii := range out {
			out[ii] = int(rv.Index(ii).Int())
		}
	case l.DType().IsUnsigned():
		for ii := range out {
			out[ii] = int(rv.Index(ii).Uint())
		}
	default:
		return nil, errors.Errorf("literal %s is not of an integer dtype", l.shape)
	}
	return out, nil
}

// Float64s returns the values converted to float64. It supports integer and float dtypes,
// including Float16 and BFloat16.
func (l *Literal) Float64s() ([]float64, error) {
	switch flat := l.flat.(type) {
	case []float16.Float16:
		out := make([]float64, len(flat))
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
		return out, nil
	case []bfloat16.BFloat16:
		out := make([]float64, len(flat))
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
		return out, nil
	}
	rv := reflect.ValueOf(l.flat)
	out := make([]float64, rv.Len())
	switch {
	case l.DType().IsFloat():
		for ii := range out {
			out[ii] = rv.Index(ii).Float()
		}
	case l.DType().IsInt():
		ints, err := l.Ints()
		if err != nil {
			return nil, err
		}
		for ii, v := range ints {
			out[ii] = float64(v)
		}
	default:
		return nil, errors.Errorf("literal %s cannot be converted to float", l.shape)
	}
	return out, nil
}

// ScalarFloat returns the value of a literal holding exactly one element (of any rank) as a float64.
func (l *Literal) ScalarFloat() (float64, error) {
	if l.Size() != 1 {
		return 0, errors.Errorf("literal %s is not a scalar", l.shape)
	}
	values, err := l.Float64s()
	if err != nil {
		return 0, err
	}
	return values[0], nil
}
