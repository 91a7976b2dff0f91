package attrs

import (
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Map of attribute name to Value, preserving insertion order.
// The zero Map is empty and ready to use.
type Map struct {
	keys   []string
	values map[string]Value
}

// NewMap creates a Map from alternating name/value pairs, where values are converted with FromAny.
// It returns an error for an odd number of arguments, non-string names or unsupported values.
func NewMap(pairs ...any) (Map, error) {
	var m Map
	if len(pairs)%2 != 0 {
		return m, errors.Errorf("attrs.NewMap requires name/value pairs, got %d arguments", len(pairs))
	}
	for ii := 0; ii < len(pairs); ii += 2 {
		name, ok := pairs[ii].(string)
		if !ok {
			return m, errors.Errorf("attribute name #%d must be a string, got %T", ii/2, pairs[ii])
		}
		v, err := FromAny(pairs[ii+1])
		if err != nil {
			return m, errors.WithMessagef(err, "attribute %q", name)
		}
		m.Set(name, v)
	}
	return m, nil
}

// Set the value of an attribute, replacing any previous value.
func (m *Map) Set(name string, v Value) {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, found := m.values[name]; !found {
		m.keys = append(m.keys, name)
	}
	m.values[name] = v.Clone()
}

// Get returns the attribute value and whether it is set.
func (m Map) Get(name string) (Value, bool) {
	v, found := m.values[name]
	return v, found
}

// Has returns whether the attribute is set.
func (m Map) Has(name string) bool {
	_, found := m.values[name]
	return found
}

// Delete removes the attribute, if set.
func (m *Map) Delete(name string) {
	if _, found := m.values[name]; !found {
		return
	}
	delete(m.values, name)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == name })
}

// Len returns the number of attributes set.
func (m Map) Len() int { return len(m.keys) }

// Keys returns the attribute names in insertion order.
func (m Map) Keys() []string { return slices.Clone(m.keys) }

// Clone returns a deep copy of the map.
func (m Map) Clone() Map {
	var m2 Map
	for _, k := range m.keys {
		m2.Set(k, m.values[k])
	}
	return m2
}

// Equal returns whether both maps hold the same attributes, regardless of order.
func (m Map) Equal(m2 Map) bool {
	if m.Len() != m2.Len() {
		return false
	}
	for k, v := range m.values {
		v2, found := m2.values[k]
		if !found || !v.Equal(v2) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (m Map) String() string {
	parts := make([]string, len(m.keys))
	for ii, k := range m.keys {
		parts[ii] = k + "=" + m.values[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (m Map) lookup(name string) (Value, error) {
	v, found := m.values[name]
	if !found {
		return v, errors.Errorf("attribute %q not set", name)
	}
	return v, nil
}

// GetInt returns the int attribute, or an error if it is missing or of a different kind.
func (m Map) GetInt(name string) (int, error) {
	v, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt()
	return i, errors.WithMessagef(err, "attribute %q", name)
}

// GetFloat returns the float attribute.
func (m Map) GetFloat(name string) (float64, error) {
	v, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	f, err := v.AsFloat()
	return f, errors.WithMessagef(err, "attribute %q", name)
}

// GetBool returns the bool attribute.
func (m Map) GetBool(name string) (bool, error) {
	v, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	return b, errors.WithMessagef(err, "attribute %q", name)
}

// GetString returns the string attribute.
func (m Map) GetString(name string) (string, error) {
	v, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	return s, errors.WithMessagef(err, "attribute %q", name)
}

// GetDType returns the dtype attribute.
func (m Map) GetDType(name string) (dtypes.DType, error) {
	v, err := m.lookup(name)
	if err != nil {
		return dtypes.InvalidDType, err
	}
	dtype, err := v.AsDType()
	return dtype, errors.WithMessagef(err, "attribute %q", name)
}

// GetInts returns the int list attribute.
func (m Map) GetInts(name string) ([]int, error) {
	v, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	ints, err := v.AsInts()
	return ints, errors.WithMessagef(err, "attribute %q", name)
}

// GetFloats returns the float list attribute.
func (m Map) GetFloats(name string) ([]float64, error) {
	v, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	floats, err := v.AsFloats()
	return floats, errors.WithMessagef(err, "attribute %q", name)
}

// GetStrings returns the string list attribute.
func (m Map) GetStrings(name string) ([]string, error) {
	v, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	strs, err := v.AsStrings()
	return strs, errors.WithMessagef(err, "attribute %q", name)
}

// GetIntLists returns the list of int lists attribute.
func (m Map) GetIntLists(name string) ([][]int, error) {
	v, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	lists, err := v.AsIntLists()
	return lists, errors.WithMessagef(err, "attribute %q", name)
}
