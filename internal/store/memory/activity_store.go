package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wolfeidau/firmguard/internal/store"
)

type activityEntry struct {
	value     int64
	expiresAt time.Time
}

// ActivityStore implements store.ActivityStore in memory. Expired keys are
// dropped lazily on read.
type ActivityStore struct {
	mu      sync.RWMutex
	entries map[string]activityEntry
	now     func() time.Time
}

var _ store.ActivityStore = (*ActivityStore)(nil)

// NewActivityStore creates a new in-memory activity store.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		entries: make(map[string]activityEntry),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for expiry, for tests.
func (s *ActivityStore) WithClock(now func() time.Time) *ActivityStore {
	s.now = now
	return s
}

func (s *ActivityStore) Get(ctx context.Context, key string) (int64, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return 0, false, nil
	}
	return entry.value, true, nil
}

func (s *ActivityStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	entry := activityEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *ActivityStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
