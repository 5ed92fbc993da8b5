package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/firmguard/internal/store"
)

// OwnershipResolver implements store.OwnershipResolver with an in-memory
// registry of model -> resource id -> firm id.
type OwnershipResolver struct {
	mu        sync.RWMutex
	resources map[string]map[string]uuid.UUID
}

var _ store.OwnershipResolver = (*OwnershipResolver)(nil)

// NewOwnershipResolver creates a resolver that knows the given models.
func NewOwnershipResolver(models ...string) *OwnershipResolver {
	r := &OwnershipResolver{resources: make(map[string]map[string]uuid.UUID)}
	for _, m := range models {
		r.resources[m] = make(map[string]uuid.UUID)
	}
	return r
}

// Put registers a resource as owned by firmID, adding the model if needed.
func (r *OwnershipResolver) Put(model, resourceID string, firmID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resources[model] == nil {
		r.resources[model] = make(map[string]uuid.UUID)
	}
	r.resources[model][resourceID] = firmID
}

func (r *OwnershipResolver) ResourceFirm(ctx context.Context, model string, resourceID string) (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID, ok := r.resources[model]
	if !ok {
		return uuid.Nil, store.ErrUnknownModel
	}
	firmID, ok := byID[resourceID]
	if !ok {
		return uuid.Nil, store.ErrResourceNotFound
	}
	return firmID, nil
}
