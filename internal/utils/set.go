package utils

import (
	"cmp"
	"slices"
)

// Set of comparable keys, used for node ids and operator types.
type Set[T comparable] map[T]struct{}

// MakeSet returns an empty Set. The optional size reserves space for that many keys.
func MakeSet[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// SetWith returns a Set holding the given keys.
func SetWith[T comparable](keys ...T) Set[T] {
	s := MakeSet[T](len(keys))
	s.Insert(keys...)
	return s
}

// Has returns whether key is in the set. It works on a nil Set.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// HasAny returns whether any of the keys is in the set.
func (s Set[T]) HasAny(keys ...T) bool {
	return slices.ContainsFunc(keys, s.Has)
}

// Insert keys into the set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Sorted returns the keys of the set in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	keys := make([]T, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
