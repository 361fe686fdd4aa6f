package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisio/eventcore/internal/domain/registry"
)

func allowAll(ctx context.Context, identity, scope string) (bool, error) {
	return true, nil
}

func newLive(t *testing.T, authorize Authorizer, admission *Limiter) (*LiveService, *registry.Hub) {
	t.Helper()
	hub := registry.NewHub(testLogger(), registry.WithBufferSize(4))
	t.Cleanup(hub.Shutdown)
	if admission == nil {
		admission = NewLimiter(LimiterConfig{Rate: 100, Burst: 100})
	}
	return NewLiveService(hub, authorize, admission, testLogger()), hub
}

func TestLiveServiceConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("joins the identity room on connect", func(t *testing.T) {
		svc, hub := newLive(t, allowAll, nil)

		conn, err := svc.Connect(ctx, "alice")
		require.NoError(t, err)
		defer svc.Disconnect(conn)

		assert.Equal(t, "alice", conn.GetIdentity())
		assert.Equal(t, 1, hub.Members(IdentityScope("alice")))

		env := testEnvelope(t, "session.created", "s1")
		assert.Equal(t, 1, hub.Broadcast(IdentityScope("alice"), env))
		assert.Same(t, env, <-conn.Recv())
	})

	t.Run("admission exhaustion rejects the connection", func(t *testing.T) {
		svc, _ := newLive(t, allowAll, NewLimiter(LimiterConfig{Rate: 0.001, Burst: 1}))

		conn, err := svc.Connect(ctx, "alice")
		require.NoError(t, err)
		defer svc.Disconnect(conn)

		_, err = svc.Connect(ctx, "alice")
		assert.ErrorIs(t, err, ErrAdmission)

		// A different identity has its own bucket.
		other, err := svc.Connect(ctx, "bob")
		require.NoError(t, err)
		svc.Disconnect(other)
	})
}

func TestLiveServiceJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("authorized join establishes membership", func(t *testing.T) {
		svc, hub := newLive(t, allowAll, nil)
		conn, err := svc.Connect(ctx, "alice")
		require.NoError(t, err)
		defer svc.Disconnect(conn)

		require.NoError(t, svc.Join(ctx, conn, "session:s1"))
		assert.Equal(t, 1, hub.Members("session:s1"))
	})

	t.Run("unauthorized join is refused before any membership", func(t *testing.T) {
		svc, hub := newLive(t, func(ctx context.Context, identity, scope string) (bool, error) {
			return false, nil
		}, nil)
		conn, err := svc.Connect(ctx, "mallory")
		require.NoError(t, err)
		defer svc.Disconnect(conn)

		err = svc.Join(ctx, conn, "session:s1")
		assert.ErrorIs(t, err, ErrNotAuthorized)
		assert.Zero(t, hub.Members("session:s1"))
	})

	t.Run("authorizer errors surface to the caller", func(t *testing.T) {
		boom := errors.New("policy store down")
		svc, _ := newLive(t, func(ctx context.Context, identity, scope string) (bool, error) {
			return false, boom
		}, nil)
		conn, err := svc.Connect(ctx, "alice")
		require.NoError(t, err)
		defer svc.Disconnect(conn)

		assert.ErrorIs(t, svc.Join(ctx, conn, "session:s1"), boom)
	})
}

func TestLiveServiceDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("removes all membership and closes the connection", func(t *testing.T) {
		svc, hub := newLive(t, allowAll, nil)
		conn, err := svc.Connect(ctx, "alice")
		require.NoError(t, err)
		require.NoError(t, svc.Join(ctx, conn, "session:s1"))

		svc.Disconnect(conn)

		assert.Zero(t, hub.Members(IdentityScope("alice")))
		assert.Zero(t, hub.Members("session:s1"))

		select {
		case <-conn.Done():
		default:
			t.Fatal("connection context should be cancelled")
		}

		// Broadcast after disconnect reaches nobody.
		assert.Zero(t, hub.Broadcast("session:s1", testEnvelope(t, "session.closed", "s1")))
	})

	t.Run("disconnect is safe to call twice", func(t *testing.T) {
		svc, _ := newLive(t, allowAll, nil)
		conn, err := svc.Connect(ctx, "alice")
		require.NoError(t, err)

		svc.Disconnect(conn)
		svc.Disconnect(conn)
	})
}
