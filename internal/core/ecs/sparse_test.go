package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparseIndex(t *testing.T) {
	var s sparseIndex
	_, ok := s.get(7)
	assert.False(t, ok)

	s.set(7, 0)
	s.set(5000, 3)
	slot, ok := s.get(7)
	assert.True(t, ok)
	assert.Equal(t, 0, slot)
	slot, ok = s.get(5000)
	assert.True(t, ok)
	assert.Equal(t, 3, slot)
	_, ok = s.get(4999)
	assert.False(t, ok)

	s.delete(7)
	_, ok = s.get(7)
	assert.False(t, ok)

	s.reset()
	_, ok = s.get(5000)
	assert.False(t, ok)
}
