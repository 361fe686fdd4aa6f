package service

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/decisio/eventcore/internal/adapter/dedup"
	"github.com/decisio/eventcore/internal/adapter/pubsub"
	"github.com/decisio/eventcore/internal/domain/envelope"
	"github.com/decisio/eventcore/internal/domain/schema"
)

const dedupCacheSize = 4096

// Idempotent wraps a handler so that an at-least-once transport yields
// effective exactly-once processing. Order matters and is fixed: upcast
// first (the dedup key is the canonical event_id, never a version-dependent
// shape), then check, then run, then record. A failed handler records
// nothing, so the next delivery retries it — failures must be retried,
// duplicates must not be reprocessed.
type Idempotent struct {
	name  string
	reg   *schema.Registry
	store dedup.Store
	cache *lru.Cache[string, struct{}]
	log   *slog.Logger
	inner pubsub.Handler
}

func NewIdempotent(name string, reg *schema.Registry, store dedup.Store, log *slog.Logger, inner pubsub.Handler) (*Idempotent, error) {
	cache, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Idempotent{
		name:  name,
		reg:   reg,
		store: store,
		cache: cache,
		log:   log.With("handler", name),
		inner: inner,
	}, nil
}

// Handler exposes the wrapped handler for bus subscription.
func (i *Idempotent) Handler() pubsub.Handler {
	return i.Handle
}

func (i *Idempotent) Handle(ctx context.Context, env *envelope.Envelope) error {
	current, err := i.reg.UpcastToCurrent(env)
	if err != nil {
		// A version gap is a configuration error; log loudly and leave the
		// event unprocessed rather than guess at its shape.
		i.log.Error("cannot upcast event to current schema",
			"event_id", env.EventID, "event_type", env.EventType,
			"schema_version", env.SchemaVersion, "error", err)
		return err
	}

	key := env.EventID + "\x00" + i.name
	if _, ok := i.cache.Get(key); ok {
		return nil
	}
	processed, err := i.store.IsProcessed(ctx, env.EventID, i.name)
	if err != nil {
		return fmt.Errorf("idempotent %s: dedup lookup: %w", i.name, err)
	}
	if processed {
		i.cache.Add(key, struct{}{})
		return nil
	}

	if err := i.inner(ctx, current); err != nil {
		return err
	}

	if err := i.store.MarkProcessed(ctx, env.EventID, i.name); err != nil {
		// The side effect happened but the record did not stick; the next
		// delivery re-runs the handler. That is the accepted failure mode.
		return fmt.Errorf("idempotent %s: mark processed: %w", i.name, err)
	}
	i.cache.Add(key, struct{}{})
	return nil
}
