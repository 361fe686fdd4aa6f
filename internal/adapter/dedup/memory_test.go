package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown pair is not processed", func(t *testing.T) {
		store := NewMemoryStore()
		ok, err := store.IsProcessed(ctx, "e1", "handler-a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("marking makes the pair processed", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.MarkProcessed(ctx, "e1", "handler-a"))

		ok, err := store.IsProcessed(ctx, "e1", "handler-a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("the key is per handler, not per event", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.MarkProcessed(ctx, "e1", "handler-a"))

		ok, err := store.IsProcessed(ctx, "e1", "handler-b")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("marking twice is harmless", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.MarkProcessed(ctx, "e1", "handler-a"))
		require.NoError(t, store.MarkProcessed(ctx, "e1", "handler-a"))

		ok, err := store.IsProcessed(ctx, "e1", "handler-a")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
