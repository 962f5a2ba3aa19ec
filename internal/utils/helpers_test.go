package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsAll(t *testing.T) {
	set := SliceToSet([]string{"laser", "cnc", "laser"})

	assert.Len(t, set, 2)
	assert.True(t, ContainsAll(set, nil))
	assert.True(t, ContainsAll(set, []string{"cnc", "laser"}))
	assert.False(t, ContainsAll(set, []string{"laser", "welding"}))
}
