package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

// Interface guard
var _ Connector = (*connect)(nil)

// Connector is one live channel to one authenticated client. External layers
// (hub, transport handlers) only ever see this interface.
type Connector interface {
	GetID() uuid.UUID
	GetIdentity() string
	Send(env *envelope.Envelope) bool
	Recv() <-chan *envelope.Envelope
	Dropped() uint64
	Touch()
	LastActivity() time.Time
	Done() <-chan struct{}
	Close()
}

type connect struct {
	id       uuid.UUID
	identity string

	ctx      context.Context
	cancelFn context.CancelFunc

	// mu orders Send against Close: sends hold the read lock while touching
	// sendCh, so the channel can only be closed when no send is in flight.
	mu     sync.RWMutex
	closed bool
	sendCh chan *envelope.Envelope

	closeOnce sync.Once

	// atomics; Send is called from broadcast goroutines, Touch from the
	// connection's own read pump.
	lastActivityAt int64
	droppedCount   uint64
}

// NewConnector creates a connection bound to the given identity with a
// bounded outbound buffer.
func NewConnector(ctx context.Context, identity string, bufferSize int) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:             uuid.New(),
		identity:       identity,
		ctx:            childCtx,
		cancelFn:       cancel,
		sendCh:         make(chan *envelope.Envelope, bufferSize),
		lastActivityAt: time.Now().UnixNano(),
	}
}

func (c *connect) GetID() uuid.UUID    { return c.id }
func (c *connect) GetIdentity() string { return c.identity }

// Send enqueues without blocking. When the buffer is full the newest message
// is the one dropped, so already-queued messages are never starved. Drops
// are counted per connection for later catch-up logic.
func (c *connect) Send(env *envelope.Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.sendCh <- env:
		return true
	default:
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}
}

func (c *connect) Recv() <-chan *envelope.Envelope { return c.sendCh }

func (c *connect) Dropped() uint64 {
	return atomic.LoadUint64(&c.droppedCount)
}

// Touch records liveness; called on every inbound client frame.
func (c *connect) Touch() {
	atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())
}

func (c *connect) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivityAt))
}

func (c *connect) Done() <-chan struct{} { return c.ctx.Done() }

// Close terminates the connection exactly once. The closed send channel
// signals the transport pump (via !ok) to finish its loop. The write lock
// excludes every in-flight Send before the channel is closed.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		c.cancelFn()
		close(c.sendCh)
	})
}
