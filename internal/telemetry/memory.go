package telemetry

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the most recent readings in a fixed-size ring.
type MemoryStore struct {
	mu   sync.RWMutex
	ring []Reading
	next int
	full bool
}

// NewMemoryStore creates a store that retains up to capacity readings.
// A non-positive capacity means 1000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{ring: make([]Reading, capacity)}
}

// Save implements [Store]. The oldest reading is overwritten when full.
func (s *MemoryStore) Save(_ context.Context, r Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = r
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, q Query) ([]Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.ring)
	}
	limit := q.limit()
	out := make([]Reading, 0, min(limit, n))
	for i := 1; i <= n && len(out) < limit; i++ {
		r := s.ring[(s.next-i+len(s.ring))%len(s.ring)]
		if q.DeviceID != "" && r.DeviceID != q.DeviceID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Len returns the number of retained readings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.ring)
	}
	return s.next
}
