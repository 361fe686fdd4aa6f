package persistence

import (
	"context"
	"sync"
)

type memTxKey struct{}

// MemTx buffers side effects until commit, mirroring the visibility rules of
// a real transaction for in-memory stores.
type MemTx struct {
	mu       sync.Mutex
	onCommit []func()
}

// OnCommit defers an effect until the surrounding unit of work commits.
// If the unit aborts, the effect never runs.
func (t *MemTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

func (t *MemTx) commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, fn := range t.onCommit {
		fn()
	}
	t.onCommit = nil
}

// MemTxFrom extracts the in-memory transaction from a unit of work opened
// with MemTxManager.WithinTx.
func MemTxFrom(ctx context.Context) (*MemTx, bool) {
	tx, ok := ctx.Value(memTxKey{}).(*MemTx)
	return tx, ok
}

// MemTxManager is the in-process TxManager used by tests and the in-memory
// adapters.
type MemTxManager struct{}

var _ TxManager = (*MemTxManager)(nil)

func NewMemTxManager() *MemTxManager { return &MemTxManager{} }

func (m *MemTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &MemTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	tx.commit()
	return nil
}
