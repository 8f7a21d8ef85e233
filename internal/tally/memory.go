package tally

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the record in process memory only.
type MemoryStore struct {
	mu  sync.RWMutex
	rec Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec, nil
}

func (s *MemoryStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.rec.Inc(day)
	if err != nil {
		return Record{}, err
	}
	s.rec = next
	return next, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
