package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

type subscription struct {
	pattern string
	name    string
	handler Handler
}

// MemoryBus executes handlers synchronously in subscription order and keeps
// a log of everything published, so tests can assert on delivery without
// sleeping. It is also the local-development transport.
type MemoryBus struct {
	mu        sync.Mutex
	subs      []subscription
	published []*envelope.Envelope
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Subscribe(pattern, name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.name == name {
			return fmt.Errorf("pubsub: subscription %q already registered", name)
		}
	}
	b.subs = append(b.subs, subscription{pattern: pattern, name: name, handler: h})
	return nil
}

// Publish appends to the log and invokes every matching handler inline.
// Handler failures are collected rather than short-circuiting, so one
// failing subscriber does not rob the others of the delivery; the joined
// error still signals the publisher to redeliver.
func (b *MemoryBus) Publish(ctx context.Context, env *envelope.Envelope) error {
	b.mu.Lock()
	b.published = append(b.published, env)
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if !MatchTopic(s.pattern, env.EventType) {
			continue
		}
		if err := s.handler(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("handler %q: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *MemoryBus) PublishAll(ctx context.Context, envs []*envelope.Envelope) error {
	for _, env := range envs {
		if err := b.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Published returns a snapshot of the publish log.
func (b *MemoryBus) Published() []*envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*envelope.Envelope, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedOfType filters the publish log by event type.
func (b *MemoryBus) PublishedOfType(eventType string) []*envelope.Envelope {
	var out []*envelope.Envelope
	for _, env := range b.Published() {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}
