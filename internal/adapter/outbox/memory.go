package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/decisio/eventcore/internal/adapter/persistence"
	"github.com/decisio/eventcore/internal/domain/envelope"
)

// MemoryStore is the in-process outbox used by tests and local development.
// Stage defers the append until the surrounding unit of work commits, so the
// atomicity contract matches the postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	records map[string]*memRecord
}

type memRecord struct {
	seq int64
	rec Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memRecord)}
}

func (s *MemoryStore) Stage(ctx context.Context, env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	tx, ok := persistence.MemTxFrom(ctx)
	if !ok {
		return ErrNoUnitOfWork
	}

	s.mu.Lock()
	_, dup := s.records[env.EventID]
	s.mu.Unlock()
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, env.EventID)
	}

	tx.OnCommit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Re-check at commit time: another unit of work staging the same
		// event may have committed in between. First commit wins, matching
		// the postgres ON CONFLICT DO NOTHING behavior.
		if _, dup := s.records[env.EventID]; dup {
			return
		}
		s.seq++
		s.records[env.EventID] = &memRecord{
			seq: s.seq,
			rec: Record{Envelope: env, CreatedAt: time.Now().UTC()},
		}
	})
	return nil
}

func (s *MemoryStore) FetchUnpublished(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*memRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.rec.PublishedAt == nil {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*Record, len(pending))
	for i, r := range pending {
		cp := r.rec
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[eventID]
	if !ok || r.rec.PublishedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	r.rec.PublishedAt = &now
	return nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, r := range s.records {
		if r.rec.PublishedAt != nil && r.rec.PublishedAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored records, published or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
