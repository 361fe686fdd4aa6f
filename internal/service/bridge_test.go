package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisio/eventcore/internal/domain/envelope"
	"github.com/decisio/eventcore/internal/domain/registry"
)

// recordingHub captures broadcasts without real connections.
type recordingHub struct {
	broadcasts map[string][]*envelope.Envelope
}

var _ registry.Hubber = (*recordingHub)(nil)

func newRecordingHub() *recordingHub {
	return &recordingHub{broadcasts: make(map[string][]*envelope.Envelope)}
}

func (h *recordingHub) Broadcast(scope string, env *envelope.Envelope) int {
	h.broadcasts[scope] = append(h.broadcasts[scope], env)
	return len(h.broadcasts[scope])
}

func (h *recordingHub) Join(conn registry.Connector, scope string) {}
func (h *recordingHub) Leave(connID uuid.UUID, scope string)       {}
func (h *recordingHub) Drop(connID uuid.UUID)                      {}
func (h *recordingHub) Shutdown()                                  {}

func TestBridgeHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcasts to every resolved scope", func(t *testing.T) {
		hub := newRecordingHub()
		bridge := NewBridge(hub, func(ctx context.Context, env *envelope.Envelope) ([]string, error) {
			return []string{"session:s1", "identity:alice"}, nil
		}, testLogger())

		env := testEnvelope(t, "decision.recorded", "s1")
		require.NoError(t, bridge.Handle(ctx, env))

		assert.Len(t, hub.broadcasts["session:s1"], 1)
		assert.Len(t, hub.broadcasts["identity:alice"], 1)
	})

	t.Run("resolution failure drops the event without failing the pipeline", func(t *testing.T) {
		hub := newRecordingHub()
		bridge := NewBridge(hub, func(ctx context.Context, env *envelope.Envelope) ([]string, error) {
			return nil, errors.New("ownership lookup failed")
		}, testLogger())

		err := bridge.Handle(ctx, testEnvelope(t, "decision.recorded", "s1"))
		assert.NoError(t, err)
		assert.Empty(t, hub.broadcasts)
	})

	t.Run("no scopes means no broadcast", func(t *testing.T) {
		hub := newRecordingHub()
		bridge := NewBridge(hub, func(ctx context.Context, env *envelope.Envelope) ([]string, error) {
			return nil, nil
		}, testLogger())

		require.NoError(t, bridge.Handle(ctx, testEnvelope(t, "decision.recorded", "s1")))
		assert.Empty(t, hub.broadcasts)
	})
}
