// Package attrs defines the attribute values of graph operators: a tagged union Value, and an
// insertion-ordered Map from attribute name to Value.
//
// Operators look up the attributes they need explicitly with the typed getters, which fail with an
// error on a kind mismatch instead of converting silently (ints are the only values promoted, to floats).
package attrs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opgraph/types/literal"
	"github.com/pkg/errors"
)

// Kind of value held in a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindDType
	KindInts
	KindFloats
	KindBools
	KindStrings
	KindIntLists
	KindLiteral
)

var kindNames = []string{"invalid", "int", "float", "bool", "string", "dtype", "ints", "floats", "bools", "strings", "int_lists", "literal"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Value is a tagged union of the attribute types supported.
// The zero Value is invalid.
type Value struct {
	kind     Kind
	i        int
	f        float64
	b        bool
	s        string
	dtype    dtypes.DType
	ints     []int
	floats   []float64
	bools    []bool
	strs     []string
	intLists [][]int
	lit      *literal.Literal
}

func Int(v int) Value                  { return Value{kind: KindInt, i: v} }
func Float(v float64) Value            { return Value{kind: KindFloat, f: v} }
func Bool(v bool) Value                { return Value{kind: KindBool, b: v} }
func String(v string) Value            { return Value{kind: KindString, s: v} }
func DType(v dtypes.DType) Value       { return Value{kind: KindDType, dtype: v} }
func Ints(v ...int) Value              { return Value{kind: KindInts, ints: slices.Clone(v)} }
func Floats(v ...float64) Value        { return Value{kind: KindFloats, floats: slices.Clone(v)} }
func Bools(v ...bool) Value            { return Value{kind: KindBools, bools: slices.Clone(v)} }
func Strings(v ...string) Value        { return Value{kind: KindStrings, strs: slices.Clone(v)} }
func Literal(v *literal.Literal) Value { return Value{kind: KindLiteral, lit: v.Clone()} }

// IntLists creates a list of int lists value, e.g. a shape range given as [[min, max], ...].
func IntLists(v ...[]int) Value {
	lists := make([][]int, len(v))
	for ii, l := range v {
		lists[ii] = slices.Clone(l)
	}
	return Value{kind: KindIntLists, intLists: lists}
}

// Kind returns the kind of value held.
func (v Value) Kind() Kind { return v.kind }

// Ok returns whether the value holds anything.
func (v Value) Ok() bool { return v.kind != KindInvalid }

func (v Value) mismatch(want Kind) error {
	return errors.Errorf("attribute value %s is of kind %s, not %s", v, v.kind, want)
}

// AsInt returns the int value, or an error if it is not an int.
func (v Value) AsInt() (int, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.i, nil
}

// AsFloat returns the float value. Ints are promoted to float.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, v.mismatch(KindFloat)
}

// AsBool returns the bool value.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

// AsString returns the string value.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

// AsDType returns the dtype value. Strings holding a dtype name are accepted.
func (v Value) AsDType() (dtypes.DType, error) {
	switch v.kind {
	case KindDType:
		return v.dtype, nil
	case KindString:
		return ParseDType(v.s)
	}
	return dtypes.InvalidDType, v.mismatch(KindDType)
}

// AsInts returns a copy of the int list value.
func (v Value) AsInts() ([]int, error) {
	if v.kind != KindInts {
		return nil, v.mismatch(KindInts)
	}
	return slices.Clone(v.ints), nil
}

// AsFloats returns a copy of the float list value. Int lists are promoted to float.
func (v Value) AsFloats() ([]float64, error) {
	switch v.kind {
	case KindFloats:
		return slices.Clone(v.floats), nil
	case KindInts:
		out := make([]float64, len(v.ints))
		for ii, x := range v.ints {
			out[ii] = float64(x)
		}
		return out, nil
	}
	return nil, v.mismatch(KindFloats)
}

// AsBools returns a copy of the bool list value.
func (v Value) AsBools() ([]bool, error) {
	if v.kind != KindBools {
		return nil, v.mismatch(KindBools)
	}
	return slices.Clone(v.bools), nil
}

// AsStrings returns a copy of the string list value.
func (v Value) AsStrings() ([]string, error) {
	if v.kind != KindStrings {
		return nil, v.mismatch(KindStrings)
	}
	return slices.Clone(v.strs), nil
}

// AsIntLists returns a copy of the list of int lists value.
func (v Value) AsIntLists() ([][]int, error) {
	if v.kind != KindIntLists {
		return nil, v.mismatch(KindIntLists)
	}
	return IntLists(v.intLists...).intLists, nil
}

// AsLiteral returns a copy of the literal value.
func (v Value) AsLiteral() (*literal.Literal, error) {
	if v.kind != KindLiteral {
		return nil, v.mismatch(KindLiteral)
	}
	return v.lit.Clone(), nil
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindInts:
		return Ints(v.ints...)
	case KindFloats:
		return Floats(v.floats...)
	case KindBools:
		return Bools(v.bools...)
	case KindStrings:
		return Strings(v.strs...)
	case KindIntLists:
		return IntLists(v.intLists...)
	case KindLiteral:
		return Literal(v.lit)
	}
	return v
}

// Equal compares kind and contents.
func (v Value) Equal(v2 Value) bool {
	if v.kind != v2.kind {
		return false
	}
	switch v.kind {
	case KindInvalid:
		return true
	case KindInt:
		return v.i == v2.i
	case KindFloat:
		return v.f == v2.f
	case KindBool:
		return v.b == v2.b
	case KindString:
		return v.s == v2.s
	case KindDType:
		return v.dtype == v2.dtype
	case KindInts:
		return slices.Equal(v.ints, v2.ints)
	case KindFloats:
		return slices.Equal(v.floats, v2.floats)
	case KindBools:
		return slices.Equal(v.bools, v2.bools)
	case KindStrings:
		return slices.Equal(v.strs, v2.strs)
	case KindIntLists:
		return slices.EqualFunc(v.intLists, v2.intLists, slices.Equal[[]int])
	case KindLiteral:
		return v.lit.Equal(v2.lit)
	}
	return false
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindDType:
		return v.dtype.String()
	case KindInts:
		return fmt.Sprintf("%v", v.ints)
	case KindFloats:
		return fmt.Sprintf("%v", v.floats)
	case KindBools:
		return fmt.Sprintf("%v", v.bools)
	case KindStrings:
		return fmt.Sprintf("%q", v.strs)
	case KindIntLists:
		return fmt.Sprintf("%v", v.intLists)
	case KindLiteral:
		return v.lit.String()
	}
	return "<invalid>"
}

// ParseDType converts a dtype name, like "float32", "Float32" or "f32", to a dtype.
func ParseDType(name string) (dtypes.DType, error) {
	if dtype, found := dtypes.MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := dtypes.MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	if dtype, err := dtypes.DTypeString(name); err == nil {
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// FromAny converts a Go value, as decoded from YAML or JSON, to a Value.
// Numbers with an integral value become ints, lists of lists of ints become KindIntLists.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x.Clone(), nil
	case int:
		return Int(x), nil
	case int32:
		return Int(int(x)), nil
	case int64:
		return Int(int(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case dtypes.DType:
		return DType(x), nil
	case []int:
		return Ints(x...), nil
	case []float64:
		return Floats(x...), nil
	case []bool:
		return Bools(x...), nil
	case []string:
		return Strings(x...), nil
	case [][]int:
		return IntLists(x...), nil
	case *literal.Literal:
		return Literal(x), nil
	case []any:
		return fromList(x)
	}
	return Value{}, errors.Errorf("unsupported attribute value type %T", v)
}

func fromList(list []any) (Value, error) {
	if len(list) == 0 {
		return Ints(), nil
	}
	switch list[0].(type) {
	case int, int64:
		ints := make([]int, len(list))
		for ii, e := range list {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			if ints[ii], err = v.AsInt(); err != nil {
				return Value{}, errors.WithMessagef(err, "element #%d of list", ii)
			}
		}
		return Ints(ints...), nil
	case float64, float32:
		floats := make([]float64, len(list))
		for ii, e := range list {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			if floats[ii], err = v.AsFloat(); err != nil {
				return Value{}, errors.WithMessagef(err, "element #%d of list", ii)
			}
		}
		return Floats(floats...), nil
	case bool:
		bools := make([]bool, len(list))
		for ii, e := range list {
			b, ok := e.(bool)
			if !ok {
				return Value{}, errors.Errorf("element #%d of list is %T, expected bool", ii, e)
			}
			bools[ii] = b
		}
		return Bools(bools...), nil
	case string:
		strs := make([]string, len(list))
		for ii, e := range list {
			s, ok := e.(string)
			if !ok {
				return Value{}, errors.Errorf("element #%d of list is %T, expected string", ii, e)
			}
			strs[ii] = s
		}
		return Strings(strs...), nil
	case []any:
		lists := make([][]int, len(list))
		for ii, e := range list {
			sub, ok := e.([]any)
			if !ok {
				return Value{}, errors.Errorf("element #%d of list is %T, expected a list", ii, e)
			}
			v, err := fromList(sub)
			if err != nil {
				return Value{}, errors.WithMessagef(err, "element #%d of list", ii)
			}
			if lists[ii], err = v.AsInts(); err != nil {
				return Value{}, errors.WithMessagef(err, "element #%d of list", ii)
			}
		}
		return IntLists(lists...), nil
	}
	return Value{}, errors.Errorf("unsupported list element type %T", list[0])
}
