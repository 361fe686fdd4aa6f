// Package envelope defines the canonical, versioned wire representation of
// every event flowing through the coordination core.
//
// An Envelope is immutable once staged: the event_id is the idempotency key
// for every downstream consumer, and the (event_type, schema_version) pair
// fully determines the payload shape. Mutating helpers return copies.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingEventID   = errors.New("envelope: event_id is required")
	ErrMissingEventType = errors.New("envelope: event_type is required")
	ErrMissingAggregate = errors.New("envelope: aggregate reference is required")
	ErrBadSchemaVersion = errors.New("envelope: schema_version must be positive")
)

// Metadata carries correlation data across event chains.
// CausationID is the id of the event or command that produced this one.
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// Envelope is the self-describing wrapper around an event payload.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
}

// New builds an envelope for a freshly produced event. OccurredAt is set by
// the producer here, never by the publisher.
func New(eventType string, version int, aggregateType, aggregateID string, payload any, meta Metadata) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	env := &Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: version,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       raw,
		Metadata:      meta,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return ErrMissingEventID
	case e.EventType == "":
		return ErrMissingEventType
	case e.SchemaVersion < 1:
		return ErrBadSchemaVersion
	case e.AggregateType == "" || e.AggregateID == "":
		return ErrMissingAggregate
	}
	return nil
}

// WithPayload returns a copy of the envelope carrying a new payload under a
// new type/version. Identifiers, timestamps and metadata are carried through
// unchanged; this is the only sanctioned way to derive one envelope from
// another, and it is what the upcaster chain uses.
func (e *Envelope) WithPayload(eventType string, version int, payload json.RawMessage) *Envelope {
	clone := *e
	clone.EventType = eventType
	clone.SchemaVersion = version
	clone.Payload = append(json.RawMessage(nil), payload...)
	return &clone
}

// Document decodes the payload into a generic map. Used by upcasters, which
// transform payloads structurally without knowing concrete types.
func (e *Envelope) Document() (map[string]any, error) {
	doc := make(map[string]any)
	if len(e.Payload) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return nil, fmt.Errorf("envelope: decode payload of %s: %w", e.EventType, err)
	}
	if doc == nil {
		// A JSON null payload unmarshals the map to nil; callers mutate the
		// document, so hand back a writable one.
		doc = make(map[string]any)
	}
	return doc, nil
}

// Encode serializes the envelope for transport or storage.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode restores an envelope from its wire form and validates it.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
