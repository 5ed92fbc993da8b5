package emailverify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/routematch"
	"github.com/wolfeidau/firmguard/internal/store/memory"
)

type downStore struct{}

func (downStore) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func (downStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func (downStore) CreateUser(ctx context.Context, user *models.User) error {
	return errors.New("connection refused")
}

func TestMiddleware(t *testing.T) {
	users := memory.NewUserStore()
	unverified := &models.User{UserID: uuid.New(), Role: models.RoleLawyer, Email: "new@example.com"}
	verified := &models.User{UserID: uuid.New(), Role: models.RoleLawyer, Email: "ok@example.com", IsEmailVerified: true}
	require.NoError(t, users.CreateUser(context.Background(), unverified))
	require.NoError(t, users.CreateUser(context.Background(), verified))

	gate := NewGate(routematch.DefaultEmailVerificationPatterns(), users)
	handler := gate.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		path     string
		userID   uuid.UUID
		expected int
	}{
		{name: "required route, unverified", path: "/api/v1/cases", userID: unverified.UserID, expected: http.StatusForbidden},
		{name: "required route, verified", path: "/api/v1/cases/123", userID: verified.UserID, expected: http.StatusOK},
		{name: "exempt route", path: "/api/v1/users/me", userID: unverified.UserID, expected: http.StatusOK},
		{name: "always required beats exempt", path: "/api/v1/users/settings/security", userID: unverified.UserID, expected: http.StatusForbidden},
		{name: "unlisted route", path: "/api/v1/notifications", userID: unverified.UserID, expected: http.StatusOK},
		{name: "deleted user", path: "/api/v1/cases", userID: uuid.New(), expected: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: tt.userID}))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)
			require.Equal(t, tt.expected, w.Code)
			if tt.expected == http.StatusForbidden {
				require.Contains(t, w.Body.String(), "EMAIL_VERIFICATION_REQUIRED")
			}
		})
	}
}

func TestMiddleware_lookupFailureFailsOpen(t *testing.T) {
	gate := NewGate(routematch.DefaultEmailVerificationPatterns(), downStore{})
	handler := gate.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: uuid.New()}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_usesCachedUser(t *testing.T) {
	gate := NewGate(routematch.DefaultEmailVerificationPatterns(), downStore{})
	handler := gate.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	ctx := auth.WithPrincipal(r.Context(), &auth.Principal{UserID: uuid.New()})
	ctx = auth.WithUser(ctx, &models.User{Email: "x@example.com"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(ctx))
	require.Equal(t, http.StatusForbidden, w.Code)
}
