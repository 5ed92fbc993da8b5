package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/firmguard/internal/models"
)

// Principal represents an authenticated user from a verified token.
// This is added to the request context after successful verification.
type Principal struct {
	UserID     uuid.UUID
	FirmID     uuid.UUID // uuid.Nil when the token carries no firm
	Role       models.Role
	Email      string
	TokenID    string
	IssuedAt   time.Time // authentication time, anchors the absolute session timeout
	ExpiresAt  time.Time
	RememberMe bool
}

type contextKey int

const (
	principalContextKey contextKey = iota
	userContextKey
)

// WithPrincipal returns a copy of ctx carrying the principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// WithUser caches the loaded identity record so later stages in the same
// request do not query the identity store again.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the identity record cached by WithUser.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}
