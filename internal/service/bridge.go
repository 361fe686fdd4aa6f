package service

import (
	"context"
	"log/slog"

	"github.com/decisio/eventcore/internal/domain/envelope"
	"github.com/decisio/eventcore/internal/domain/registry"
)

// ScopeResolver maps an envelope to the authorization scopes it should fan
// out to. It is an injected capability: a child aggregate's event resolves
// to its owning top-level scope here, never by trusting client-supplied
// routing.
type ScopeResolver func(ctx context.Context, env *envelope.Envelope) ([]string, error)

// Authorizer answers whether an identity may subscribe to a scope. Checked
// once at join time; membership is the trust boundary afterwards.
type Authorizer func(ctx context.Context, identity, scope string) (bool, error)

// Bridge turns bus deliveries into room broadcasts. It is an ordinary
// transport subscriber, wrapped by the idempotent consumer like any other
// handler.
type Bridge struct {
	hub     registry.Hubber
	resolve ScopeResolver
	log     *slog.Logger
}

func NewBridge(hub registry.Hubber, resolve ScopeResolver, log *slog.Logger) *Bridge {
	return &Bridge{
		hub:     hub,
		resolve: resolve,
		log:     log.With("component", "live-bridge"),
	}
}

// Handle resolves the envelope's target scopes and broadcasts. A resolution
// failure drops the event for live fan-out only: failing open would leak
// data, and failing the pipeline would block unrelated subscribers.
func (b *Bridge) Handle(ctx context.Context, env *envelope.Envelope) error {
	scopes, err := b.resolve(ctx, env)
	if err != nil {
		b.log.Error("scope resolution failed, dropping for live fan-out",
			"event_id", env.EventID, "event_type", env.EventType, "error", err)
		return nil
	}
	for _, scope := range scopes {
		b.hub.Broadcast(scope, env)
	}
	return nil
}
