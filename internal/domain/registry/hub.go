package registry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

// Hubber is the room-management gateway used by the live bridge and the
// connection handlers.
type Hubber interface {
	Broadcast(scope string, env *envelope.Envelope) int
	Join(conn Connector, scope string)
	Leave(connID uuid.UUID, scope string)
	Drop(connID uuid.UUID)
	Shutdown()
}

// Hub maps scopes to rooms of live connections. Join and Leave serialize
// through one writer lock; broadcasts proceed concurrently with each other
// but never with a membership mutation.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	conns  map[uuid.UUID]*membership
	log    *slog.Logger
	config hubConfig
}

type membership struct {
	conn   Connector
	scopes map[string]struct{}
}

var _ Hubber = (*Hub)(nil)

func NewHub(log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]*room),
		conns:  make(map[uuid.UUID]*membership),
		log:    log,
		config: defaultConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BufferSize is the outbound buffer capacity new connections get.
func (h *Hub) BufferSize() int {
	return h.config.bufferSize
}

// Join adds the connection to the room for the scope, creating the room on
// first subscriber. Authorization has already happened by the time a caller
// gets here; the trust boundary is room membership itself.
func (h *Hub) Join(conn Connector, scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[scope]
	if !ok {
		r = newRoom(scope)
		h.rooms[scope] = r
	}
	r.add(conn)

	m, ok := h.conns[conn.GetID()]
	if !ok {
		m = &membership{conn: conn, scopes: make(map[string]struct{})}
		h.conns[conn.GetID()] = m
	}
	m.scopes[scope] = struct{}{}
}

// Leave removes the connection from one room. A room with no members left is
// deleted immediately, so no orphaned rooms accumulate.
func (h *Hub) Leave(connID uuid.UUID, scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, scope)
}

func (h *Hub) leaveLocked(connID uuid.UUID, scope string) {
	if r, ok := h.rooms[scope]; ok {
		if r.remove(connID) == 0 {
			delete(h.rooms, scope)
		}
	}
	if m, ok := h.conns[connID]; ok {
		delete(m.scopes, scope)
	}
}

// Drop removes the connection from every room it joined and forgets it.
// Called on every exit path, graceful or not.
func (h *Hub) Drop(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[connID]
	if !ok {
		return
	}
	for scope := range m.scopes {
		h.leaveLocked(connID, scope)
	}
	delete(h.conns, connID)
}

// Broadcast fans the envelope out to every connection in the scope's room.
// Sends never block: a full connection buffer drops the message for that
// connection only. Returns the number of successful sends.
func (h *Hub) Broadcast(scope string, env *envelope.Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[scope]
	if !ok {
		return 0
	}
	delivered := r.broadcast(env)
	if dropped := r.size() - delivered; dropped > 0 {
		h.log.Warn("slow consumers dropped broadcast", "scope", scope, "event_id", env.EventID, "dropped", dropped)
	}
	return delivered
}

// Members reports the number of connections in a scope's room.
func (h *Hub) Members(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[scope]; ok {
		return r.size()
	}
	return 0
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Shutdown closes every connection and clears all rooms.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.conns {
		m.conn.Close()
	}
	h.rooms = make(map[string]*room)
	h.conns = make(map[uuid.UUID]*membership)
}
