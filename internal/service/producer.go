package service

import (
	"context"

	"github.com/decisio/eventcore/internal/adapter/outbox"
	"github.com/decisio/eventcore/internal/domain/envelope"
)

// Producer is the single entry point business collaborators use to introduce
// events. StageEvent must be called from inside the caller's own atomic
// state-change operation; a failure here fails the whole enclosing unit of
// work, which is exactly the contract — state and intent-to-publish commit
// together or not at all.
type Producer struct {
	store outbox.Store
}

func NewProducer(store outbox.Store) *Producer {
	return &Producer{store: store}
}

func (p *Producer) StageEvent(ctx context.Context, env *envelope.Envelope) error {
	return p.store.Stage(ctx, env)
}
