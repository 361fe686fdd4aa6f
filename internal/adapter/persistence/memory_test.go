package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTxManager(t *testing.T) {
	ctx := context.Background()

	t.Run("commit effects run after the function returns", func(t *testing.T) {
		tm := NewMemTxManager()
		var applied bool

		err := tm.WithinTx(ctx, func(txCtx context.Context) error {
			tx, ok := MemTxFrom(txCtx)
			require.True(t, ok)
			tx.OnCommit(func() { applied = true })
			assert.False(t, applied)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("an aborted unit discards its effects", func(t *testing.T) {
		tm := NewMemTxManager()
		var applied bool
		boom := errors.New("abort")

		err := tm.WithinTx(ctx, func(txCtx context.Context) error {
			tx, _ := MemTxFrom(txCtx)
			tx.OnCommit(func() { applied = true })
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, applied)
	})

	t.Run("effects run in registration order", func(t *testing.T) {
		tm := NewMemTxManager()
		var order []int

		err := tm.WithinTx(ctx, func(txCtx context.Context) error {
			tx, _ := MemTxFrom(txCtx)
			tx.OnCommit(func() { order = append(order, 1) })
			tx.OnCommit(func() { order = append(order, 2) })
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("no transaction outside a unit of work", func(t *testing.T) {
		_, ok := MemTxFrom(ctx)
		assert.False(t, ok)
	})
}
