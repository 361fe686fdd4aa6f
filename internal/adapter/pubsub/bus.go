// Package pubsub is the event transport abstraction. The bus guarantees
// at-least-once delivery and per-aggregate ordering (inherited from the
// outbox fetch order feeding it in sequence); effective exactly-once
// processing is layered on top by the idempotent consumer wrapper.
package pubsub

import (
	"context"
	"strings"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

// Handler consumes one envelope. A non-nil error means the delivery failed
// and the transport will retry it.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// Bus is the pub/sub contract shared by the in-process and AMQP transports.
// The pattern is an event type, a segment wildcard like "session.*", or "*"
// for everything. The name identifies the subscription; on durable
// transports it doubles as the consumer group, so one slow subscriber cannot
// stall another.
type Bus interface {
	Publish(ctx context.Context, env *envelope.Envelope) error
	PublishAll(ctx context.Context, envs []*envelope.Envelope) error
	Subscribe(pattern, name string, h Handler) error
}

// MatchTopic reports whether an event type matches a subscription pattern.
func MatchTopic(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
