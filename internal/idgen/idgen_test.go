package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_Unique(t *testing.T) {
	gen, err := NewSnowflake(1)
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen.NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestSnowflake_BadNode(t *testing.T) {
	_, err := NewSnowflake(5000)
	assert.Error(t, err)
}

func TestUUID(t *testing.T) {
	_, err := uuid.Parse(UUID{}.NewID())
	assert.NoError(t, err)
}
