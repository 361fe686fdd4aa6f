package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisio/eventcore/internal/adapter/dedup"
	"github.com/decisio/eventcore/internal/domain/envelope"
	"github.com/decisio/eventcore/internal/domain/schema"
)

func TestIdempotentHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate delivery runs the handler once", func(t *testing.T) {
		calls := 0
		wrapped, err := NewIdempotent("counter", schema.NewRegistry(), dedup.NewMemoryStore(), testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error {
				calls++
				return nil
			})
		require.NoError(t, err)

		env := testEnvelope(t, "session.created", "s1")
		require.NoError(t, wrapped.Handle(ctx, env))
		require.NoError(t, wrapped.Handle(ctx, env))

		assert.Equal(t, 1, calls)
	})

	t.Run("a failed handler is retried, not deduplicated", func(t *testing.T) {
		attempts := 0
		wrapped, err := NewIdempotent("flaky", schema.NewRegistry(), dedup.NewMemoryStore(), testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error {
				attempts++
				if attempts == 1 {
					return errors.New("transient")
				}
				return nil
			})
		require.NoError(t, err)

		env := testEnvelope(t, "session.created", "s1")
		assert.Error(t, wrapped.Handle(ctx, env))
		assert.NoError(t, wrapped.Handle(ctx, env))
		assert.Equal(t, 2, attempts)

		// Now it is recorded; further deliveries are absorbed.
		assert.NoError(t, wrapped.Handle(ctx, env))
		assert.Equal(t, 2, attempts)
	})

	t.Run("same event id is independent across handlers", func(t *testing.T) {
		store := dedup.NewMemoryStore()
		var aCalls, bCalls int
		a, err := NewIdempotent("handler-a", schema.NewRegistry(), store, testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error { aCalls++; return nil })
		require.NoError(t, err)
		b, err := NewIdempotent("handler-b", schema.NewRegistry(), store, testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error { bCalls++; return nil })
		require.NoError(t, err)

		env := testEnvelope(t, "session.created", "s1")
		require.NoError(t, a.Handle(ctx, env))
		require.NoError(t, b.Handle(ctx, env))
		assert.Equal(t, 1, aCalls)
		assert.Equal(t, 1, bCalls)
	})

	t.Run("a record in the durable store survives a fresh cache", func(t *testing.T) {
		store := dedup.NewMemoryStore()
		env := testEnvelope(t, "session.created", "s1")
		require.NoError(t, store.MarkProcessed(ctx, env.EventID, "restarted"))

		calls := 0
		wrapped, err := NewIdempotent("restarted", schema.NewRegistry(), store, testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error { calls++; return nil })
		require.NoError(t, err)

		require.NoError(t, wrapped.Handle(ctx, env))
		assert.Zero(t, calls)
	})

	t.Run("the handler sees the upcasted shape", func(t *testing.T) {
		reg := schema.NewRegistry()
		require.NoError(t, reg.Register(schema.AddField("session.created", 1, "description", nil)))

		var got *envelope.Envelope
		wrapped, err := NewIdempotent("observer", reg, dedup.NewMemoryStore(), testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error {
				got = env
				return nil
			})
		require.NoError(t, err)

		env := testEnvelope(t, "session.created", "s1")
		require.NoError(t, wrapped.Handle(ctx, env))
		require.NotNil(t, got)
		assert.Equal(t, 2, got.SchemaVersion)

		doc, err := got.Document()
		require.NoError(t, err)
		assert.Contains(t, doc, "description")
	})

	t.Run("a version gap fails the delivery and skips the handler", func(t *testing.T) {
		reg := schema.NewRegistry()
		reg.SetCurrent("session.created", 3)

		calls := 0
		wrapped, err := NewIdempotent("gapped", reg, dedup.NewMemoryStore(), testLogger(),
			func(ctx context.Context, env *envelope.Envelope) error { calls++; return nil })
		require.NoError(t, err)

		err = wrapped.Handle(ctx, testEnvelope(t, "session.created", "s1"))
		assert.ErrorIs(t, err, schema.ErrVersionGap)
		assert.Zero(t, calls)
	})
}
