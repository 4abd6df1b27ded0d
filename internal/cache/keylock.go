package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks hands out one binary semaphore per key. Slots are reference
// counted and dropped once no holder or waiter remains.
type keyLocks struct {
	mu    sync.Mutex
	slots map[Key]*keySlot
}

type keySlot struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{slots: make(map[Key]*keySlot)}
}

// lock blocks until key is free or ctx is done.
func (l *keyLocks) lock(ctx context.Context, key Key) (unlock func(), err error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &keySlot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		l.release(key, s)
		return nil, err
	}
	return func() {
		s.sem.Release(1)
		l.release(key, s)
	}, nil
}

func (l *keyLocks) release(key Key, s *keySlot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// held returns the number of keys with a holder or waiter.
func (l *keyLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
