package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// SecurityEventStore implements store.SecurityEventStore in memory.
type SecurityEventStore struct {
	mu     sync.RWMutex
	events []models.SecurityEvent
}

var _ store.SecurityEventStore = (*SecurityEventStore)(nil)

// NewSecurityEventStore creates a new in-memory security event store.
func NewSecurityEventStore() *SecurityEventStore {
	return &SecurityEventStore{}
}

func (s *SecurityEventStore) RecordSecurityEvents(ctx context.Context, events []models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (s *SecurityEventStore) Events() []models.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.events)
}
