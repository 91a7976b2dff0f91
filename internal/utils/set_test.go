package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := MakeSet[int](10)
	assert.Empty(t, s)
	s.Insert(3, 7, 3)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(5))
	assert.True(t, s.HasAny(5, 7))
	assert.False(t, s.HasAny(1, 2))
	assert.False(t, s.HasAny())

	var empty Set[int]
	assert.False(t, empty.Has(3))

	assert.Equal(t, []int{-1, 3, 7}, Sorted(SetWith(7, -1, 3)))
	assert.Equal(t, []string{"Add", "MatMul", "Relu"}, Sorted(SetWith("Relu", "Add", "MatMul")))
}
