package memory

import (
	"context"
	"sync"
	"time"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// DedupStore is an in-process dedup store with per-key expiry.
type DedupStore struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]time.Time
}

// NewDedupStore constructs a store. A nil clock uses system time.
func NewDedupStore(clock Clock) *DedupStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &DedupStore{clock: clock, entries: make(map[string]time.Time)}
}

// Exists reports whether key holds an unexpired marker.
func (s *DedupStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key, s.clock.Now()), nil
}

// SetNX writes key with ttl when no unexpired marker exists.
func (s *DedupStore) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if s.live(key, now) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	s.sweep(now)
	return true, nil
}

func (s *DedupStore) live(key string, now time.Time) bool {
	expires, ok := s.entries[key]
	return ok && now.Before(expires)
}

func (s *DedupStore) sweep(now time.Time) {
	for key, expires := range s.entries {
		if !now.Before(expires) {
			delete(s.entries, key)
		}
	}
}
