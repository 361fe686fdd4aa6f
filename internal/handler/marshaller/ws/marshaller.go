// Package wsmarshaller maps internal envelopes onto the JSON frames the
// websocket clients speak.
package wsmarshaller

import (
	"encoding/json"
	"time"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

// Frame is the generic wrapper for every server-to-client message.
type Frame struct {
	Type    string `json:"type"` // "connected", "event", "error"
	Payload any    `json:"payload"`
}

// Connected confirms the upgrade and hands the client its server-issued
// connection identifier.
type Connected struct {
	ConnectionID string `json:"connection_id"`
}

// Notification is an envelope-derived push message.
type Notification struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Error carries an explicit failure back to the client; RetryAfter is set
// for admission rejections.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter string `json:"retry_after,omitempty"`
}

func MarshalConnected(connID string) ([]byte, error) {
	return json.Marshal(Frame{Type: "connected", Payload: Connected{ConnectionID: connID}})
}

func MarshalEvent(env *envelope.Envelope) ([]byte, error) {
	return json.Marshal(Frame{Type: "event", Payload: Notification{
		EventID:       env.EventID,
		EventType:     env.EventType,
		SchemaVersion: env.SchemaVersion,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		OccurredAt:    env.OccurredAt,
		Payload:       env.Payload,
	}})
}

func MarshalError(code, message string, retryAfter time.Duration) ([]byte, error) {
	e := Error{Code: code, Message: message}
	if retryAfter > 0 {
		e.RetryAfter = retryAfter.String()
	}
	return json.Marshal(Frame{Type: "error", Payload: e})
}
