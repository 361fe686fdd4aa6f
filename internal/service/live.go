package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/decisio/eventcore/internal/domain/registry"
)

var (
	ErrNotAuthorized = errors.New("live: identity not authorized for scope")
	ErrAdmission     = errors.New("live: admission limit reached")
)

// IdentityScope is the per-identity room every connection joins on connect,
// used for identity-wide notifications.
func IdentityScope(identity string) string {
	return "identity:" + identity
}

// Deliverer is the connection-lifecycle interface exposed to transport
// handlers (websocket today).
type Deliverer interface {
	Connect(ctx context.Context, identity string) (registry.Connector, error)
	Join(ctx context.Context, conn registry.Connector, scope string) error
	Leave(conn registry.Connector, scope string)
	Disconnect(conn registry.Connector)
}

// LiveService owns joins and leaves. Authorization happens here, exactly
// once per subscription; the hub trusts whatever membership this service
// established.
type LiveService struct {
	hub       *registry.Hub
	authorize Authorizer
	admission *Limiter
	log       *slog.Logger
}

var _ Deliverer = (*LiveService)(nil)

func NewLiveService(hub *registry.Hub, authorize Authorizer, admission *Limiter, log *slog.Logger) *LiveService {
	return &LiveService{
		hub:       hub,
		authorize: authorize,
		admission: admission,
		log:       log.With("component", "live"),
	}
}

// Connect admits a new connection for the identity and joins its
// identity-wide room. Admission exhaustion rejects the connection with a
// retry-after hint; it is never silently granted.
func (s *LiveService) Connect(ctx context.Context, identity string) (registry.Connector, error) {
	if ok, retryAfter := s.admission.Allow("conn:" + identity); !ok {
		return nil, fmt.Errorf("%w: retry after %s", ErrAdmission, retryAfter)
	}

	conn := registry.NewConnector(ctx, identity, s.hub.BufferSize())
	s.hub.Join(conn, IdentityScope(identity))
	s.log.Info("connection opened", "identity", identity, "conn_id", conn.GetID())
	return conn, nil
}

// Join checks authorization once and establishes room membership.
func (s *LiveService) Join(ctx context.Context, conn registry.Connector, scope string) error {
	ok, err := s.authorize(ctx, conn.GetIdentity(), scope)
	if err != nil {
		return fmt.Errorf("live: authorization check for %q: %w", scope, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, scope)
	}
	s.hub.Join(conn, scope)
	return nil
}

func (s *LiveService) Leave(conn registry.Connector, scope string) {
	s.hub.Leave(conn.GetID(), scope)
}

// Disconnect releases room membership and limiter state deterministically.
// Safe on every exit path, including abrupt network failure; the hub drop
// happens before the connection closes so no broadcast can race the close.
func (s *LiveService) Disconnect(conn registry.Connector) {
	s.hub.Drop(conn.GetID())
	conn.Close()
	s.log.Info("connection closed",
		"identity", conn.GetIdentity(),
		"conn_id", conn.GetID(),
		"dropped_messages", conn.Dropped(),
		"last_activity", conn.LastActivity().Format(time.RFC3339))
}

// MessageKey is the admission key for inbound frames on one connection.
func MessageKey(connID uuid.UUID) string {
	return "msg:" + connID.String()
}
