package ratelimit

import (
	"sync"
	"time"
)

// CounterStore is the storage behind the rate limiter: fixed-window counters
// with TTL expiry. Implementations must not lose concurrent increments —
// Incr is increment-with-TTL, never read-modify-write.
type CounterStore interface {
	// Incr atomically increments the counter for key, creating it with the
	// given TTL if absent or expired, and returns the count after the
	// increment.
	Incr(key string, ttl time.Duration) (int64, error)
}

type counter struct {
	count   int64
	expires time.Time
}

// MemoryStore is an in-process CounterStore. Windows are fixed: the TTL is
// set when a counter is created and the counter resets implicitly once it
// lapses.
type MemoryStore struct {
	counters map[string]*counter
	mu       sync.Mutex
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// Incr implements CounterStore.
func (s *MemoryStore) Incr(key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expires) {
		c = &counter{expires: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Sweep removes expired counters. The serve loop schedules it periodically;
// correctness does not depend on it since Incr resets lapsed windows lazily.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, c := range s.counters {
		if now.After(c.expires) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
