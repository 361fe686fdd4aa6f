package dedup

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.RWMutex
	done map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{done: make(map[string]time.Time)}
}

func key(eventID, handler string) string {
	return eventID + "\x00" + handler
}

func (s *MemoryStore) IsProcessed(ctx context.Context, eventID, handler string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[key(eventID, handler)]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, eventID, handler string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key(eventID, handler)] = time.Now().UTC()
	return nil
}
