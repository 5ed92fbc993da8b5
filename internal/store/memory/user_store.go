package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
// This implementation is for testing and development only - data is lost on restart.
type UserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*models.User
}

var _ store.UserStore = (*UserStore)(nil)

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[uuid.UUID]*models.User),
	}
}

// CreateUser stores a copy of the user.
func (s *UserStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.UserID]; exists {
		return store.ErrUserExists
	}

	// Clone to avoid external modifications
	clone := *user
	s.users[user.UserID] = &clone
	return nil
}

// FindUser retrieves a user by ID.
func (s *UserStore) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists || user.IsDeleted() {
		return nil, store.ErrUserNotFound
	}

	clone := *user
	return &clone, nil
}

// FindUserByEmail retrieves a user by email, ignoring case.
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.IsDeleted() || !strings.EqualFold(user.Email, email) {
			continue
		}
		clone := *user
		return &clone, nil
	}
	return nil, store.ErrUserNotFound
}
