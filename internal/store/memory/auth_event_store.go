package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// AuthEventStore implements store.AuthEventStore using in-memory storage.
type AuthEventStore struct {
	mu     sync.RWMutex
	latest map[uuid.UUID]time.Time // user_id -> most recent successful auth
	events []models.AuthEvent
}

var _ store.AuthEventStore = (*AuthEventStore)(nil)

// NewAuthEventStore creates a new in-memory auth event store.
func NewAuthEventStore() *AuthEventStore {
	return &AuthEventStore{
		latest: make(map[uuid.UUID]time.Time),
	}
}

// RecordAuthEvent appends the event and tracks the latest successful one.
func (s *AuthEventStore) RecordAuthEvent(ctx context.Context, event *models.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *event)

	if event.Succeeded && event.CreatedAt.After(s.latest[event.UserID]) {
		s.latest[event.UserID] = event.CreatedAt
	}
	return nil
}

// LastAuthTimestamp returns the most recent successful authentication.
func (s *AuthEventStore) LastAuthTimestamp(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts, ok := s.latest[userID]
	return ts, ok, nil
}
