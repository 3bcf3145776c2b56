package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitOrAll(t *testing.T) {
	for _, limit := range []int{0, -5} {
		assert.Nil(t, limitOrAll(limit), "limit %d binds NULL", limit)
	}

	got := limitOrAll(25)
	require.NotNil(t, got)
	assert.Equal(t, 25, *got)
}
