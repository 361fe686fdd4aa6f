// Package lpmarshaller renders envelope batches for the long-polling
// fallback endpoint.
package lpmarshaller

import (
	"encoding/json"

	"github.com/decisio/eventcore/internal/domain/envelope"
	wsmarshaller "github.com/decisio/eventcore/internal/handler/marshaller/ws"
)

type batch struct {
	Events []wsmarshaller.Notification `json:"events"`
}

func MarshalEvents(envs []*envelope.Envelope) ([]byte, error) {
	b := batch{Events: make([]wsmarshaller.Notification, 0, len(envs))}
	for _, env := range envs {
		b.Events = append(b.Events, wsmarshaller.Notification{
			EventID:       env.EventID,
			EventType:     env.EventType,
			SchemaVersion: env.SchemaVersion,
			AggregateType: env.AggregateType,
			AggregateID:   env.AggregateID,
			OccurredAt:    env.OccurredAt,
			Payload:       env.Payload,
		})
	}
	return json.Marshal(b)
}
