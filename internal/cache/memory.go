package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in a map. Results are copied on the way in and
// out, so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Result = e.Result.Clone()
	return e, nil
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	e.Result = e.Result.Clone()
	s.mu.Lock()
	s.entries[e.Key] = e
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }
