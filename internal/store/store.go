package store

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/firmguard/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrFirmNotFound     = errors.New("firm not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrUnknownModel     = errors.New("unknown resource model")
)

// UserStore is the identity store consulted by the security middleware.
type UserStore interface {
	// FindUser returns ErrUserNotFound when the user does not exist or is deleted.
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// FindUserByEmail matches case-insensitively and returns ErrUserNotFound
	// like FindUser.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)

	// CreateUser returns ErrUserExists if the id is already taken.
	CreateUser(ctx context.Context, user *models.User) error
}

// AuthEventStore persists credential verifications.
type AuthEventStore interface {
	RecordAuthEvent(ctx context.Context, event *models.AuthEvent) error

	// LastAuthTimestamp returns the time of the most recent successful
	// authentication. The boolean is false when none exists.
	LastAuthTimestamp(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
}

// SecurityEventStore keeps the audit trail of security events.
type SecurityEventStore interface {
	// RecordSecurityEvents appends a batch of events.
	RecordSecurityEvents(ctx context.Context, events []models.SecurityEvent) error
}

// ActivityStore is a key-value store with per-key expiry used to track the
// last activity of a session. Values are epoch milliseconds.
type ActivityStore interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// AllowListStore provides per-firm IP allow lists.
type AllowListStore interface {
	// AllowedNetworks returns whether restriction is enabled for the firm and
	// the networks members may connect from.
	AllowedNetworks(ctx context.Context, firmID uuid.UUID) (enabled bool, networks []netip.Prefix, err error)

	AddAllowedNetwork(ctx context.Context, entry *models.AllowedNetwork) error
}

// OwnershipResolver answers which firm owns a resource.
type OwnershipResolver interface {
	// ResourceFirm returns ErrResourceNotFound when the resource does not
	// exist and ErrUnknownModel when the model is not registered.
	ResourceFirm(ctx context.Context, model string, resourceID string) (uuid.UUID, error)
}
