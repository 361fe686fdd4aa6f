package wsmarshaller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

func TestMarshalEvent(t *testing.T) {
	env, err := envelope.New("decision.recorded", 2, "session", "s1",
		map[string]any{"option": "B"}, envelope.Metadata{})
	require.NoError(t, err)

	data, err := MarshalEvent(env)
	require.NoError(t, err)

	var frame struct {
		Type    string       `json:"type"`
		Payload Notification `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, env.EventID, frame.Payload.EventID)
	assert.Equal(t, 2, frame.Payload.SchemaVersion)
	assert.JSONEq(t, `{"option":"B"}`, string(frame.Payload.Payload))
}

func TestMarshalConnected(t *testing.T) {
	data, err := MarshalConnected("conn-123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","payload":{"connection_id":"conn-123"}}`, string(data))
}

func TestMarshalError(t *testing.T) {
	t.Run("includes retry hint when set", func(t *testing.T) {
		data, err := MarshalError("admission_limited", "too many connections", 2*time.Second)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","payload":{"code":"admission_limited","message":"too many connections","retry_after":"2s"}}`, string(data))
	})

	t.Run("omits retry hint when zero", func(t *testing.T) {
		data, err := MarshalError("bad_request", "malformed message", 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","payload":{"code":"bad_request","message":"malformed message"}}`, string(data))
	})
}
