// Package outbox implements the durable staging area between aggregate state
// changes and the event bus. A record is written in the same atomic unit as
// the mutation that caused it, so "state saved but event lost" cannot happen:
// either both exist or neither does.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

var (
	// ErrNoUnitOfWork is returned when Stage is called outside a
	// transaction. Outbox records are never created standalone.
	ErrNoUnitOfWork = errors.New("outbox: stage requires an open unit of work")

	ErrDuplicateEvent = errors.New("outbox: event_id already staged")
)

// Record wraps an envelope with its delivery state. PublishedAt is nil until
// the publisher has handed the event to the transport.
type Record struct {
	Envelope    *envelope.Envelope
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Store is the append-only staging area.
//
// Stage binds the record to the caller's open unit of work. FetchUnpublished
// returns records oldest first, which is what gives consumers per-aggregate
// ordering. MarkPublished sets a timestamp and is safe to repeat, including
// under concurrent publishers. DeleteOlderThan only ever touches published
// records; an unpublished record is never purged.
type Store interface {
	Stage(ctx context.Context, env *envelope.Envelope) error
	FetchUnpublished(ctx context.Context, limit int) ([]*Record, error)
	MarkPublished(ctx context.Context, eventID string) error
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}
