/*
Package registry maintains the mapping from authorized recipients to open
network connections.

Key concepts:
  - Rooms: every authorization scope with at least one subscriber is
    represented by a room holding the live connections allowed to see that
    scope's events. Rooms are ephemeral; the first join creates one, the last
    leave destroys it.
  - Slow-consumer isolation: each connection owns a bounded outbound buffer.
    A broadcast never waits for a slow socket; the message is dropped for
    that connection and counted, so reconnect logic upstream can detect gaps.
  - Concurrency: membership mutations serialize through the hub's writer
    lock, while broadcasts share a read lock and proceed concurrently.
*/
package registry

import (
	"github.com/google/uuid"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

// room is one named fan-out target. All access is guarded by the hub's lock.
type room struct {
	scope   string
	members map[uuid.UUID]Connector
}

func newRoom(scope string) *room {
	return &room{
		scope:   scope,
		members: make(map[uuid.UUID]Connector),
	}
}

func (r *room) add(conn Connector) {
	r.members[conn.GetID()] = conn
}

// remove deletes the member and returns the remaining count, which the hub
// uses to decide whether the room dies.
func (r *room) remove(connID uuid.UUID) int {
	delete(r.members, connID)
	return len(r.members)
}

func (r *room) size() int {
	return len(r.members)
}

func (r *room) broadcast(env *envelope.Envelope) int {
	delivered := 0
	for _, conn := range r.members {
		if conn.Send(env) {
			delivered++
		}
	}
	return delivered
}
