package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_Sortable(t *testing.T) {
	first := NewULID()
	second := NewULID()
	assert.Len(t, first, 26)
	assert.Less(t, first, second)
}

func TestNewShortId(t *testing.T) {
	id := NewShortId()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, NewShortId())
}
