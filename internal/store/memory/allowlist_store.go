package memory

import (
	"context"
	"net/netip"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// AllowListStore implements store.AllowListStore in memory.
type AllowListStore struct {
	mu       sync.RWMutex
	enabled  map[uuid.UUID]bool
	networks map[uuid.UUID][]netip.Prefix
}

var _ store.AllowListStore = (*AllowListStore)(nil)

// NewAllowListStore creates a new in-memory allow list store.
func NewAllowListStore() *AllowListStore {
	return &AllowListStore{
		enabled:  make(map[uuid.UUID]bool),
		networks: make(map[uuid.UUID][]netip.Prefix),
	}
}

// SetRestriction enables or disables IP restriction for a firm.
func (s *AllowListStore) SetRestriction(firmID uuid.UUID, enabled bool) {
	s.mu.Lock()
	s.enabled[firmID] = enabled
	s.mu.Unlock()
}

func (s *AllowListStore) AllowedNetworks(ctx context.Context, firmID uuid.UUID) (bool, []netip.Prefix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nets := make([]netip.Prefix, len(s.networks[firmID]))
	copy(nets, s.networks[firmID])
	return s.enabled[firmID], nets, nil
}

func (s *AllowListStore) AddAllowedNetwork(ctx context.Context, entry *models.AllowedNetwork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.networks[entry.FirmID] = append(s.networks[entry.FirmID], entry.Prefix.Masked())
	return nil
}
