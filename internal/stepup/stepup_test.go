package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type failingEvents struct{}

func (failingEvents) RecordAuthEvent(ctx context.Context, event *models.AuthEvent) error {
	return errors.New("db down")
}

func (failingEvents) LastAuthTimestamp(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("db down")
}

type slowEvents struct{ failingEvents }

func (slowEvents) LastAuthTimestamp(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	<-ctx.Done()
	return time.Time{}, false, ctx.Err()
}

func newGateWithAuthAt(t *testing.T, userID uuid.UUID, at time.Time) *Gate {
	t.Helper()
	events := memory.NewAuthEventStore()
	require.NoError(t, events.RecordAuthEvent(context.Background(), &models.AuthEvent{
		EventID:   uuid.New(),
		UserID:    userID,
		Method:    models.AuthMethodPassword,
		Succeeded: true,
		CreatedAt: at,
	}))
	return NewGate(events, WithClock(func() time.Time { return testNow }))
}

func TestVerifyRecent(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name     string
		authAt   time.Time
		maxAge   time.Duration
		expected bool
	}{
		{name: "six minutes ago is stale for critical", authAt: testNow.Add(-6 * time.Minute), maxAge: PresetCritical, expected: false},
		{name: "four minutes ago is recent for critical", authAt: testNow.Add(-4 * time.Minute), maxAge: PresetCritical, expected: true},
		{name: "exactly at the boundary", authAt: testNow.Add(-5 * time.Minute), maxAge: PresetCritical, expected: true},
		{name: "sensitive window", authAt: testNow.Add(-59 * time.Minute), maxAge: PresetSensitive, expected: true},
		{name: "general window", authAt: testNow.Add(-25 * time.Hour), maxAge: PresetGeneral, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateWithAuthAt(t, userID, tt.authAt)

			status := g.VerifyRecent(context.Background(), userID, tt.maxAge)
			require.Equal(t, tt.expected, status.IsRecent)
			require.True(t, tt.authAt.Equal(status.AuthenticatedAt))
			require.True(t, tt.authAt.Add(tt.maxAge).Equal(status.ExpiresAt))
		})
	}
}

func TestVerifyRecent_failClosed(t *testing.T) {
	t.Run("lookup error", func(t *testing.T) {
		g := NewGate(failingEvents{})
		status := g.VerifyRecent(context.Background(), uuid.New(), PresetGeneral)
		require.False(t, status.IsRecent)
		require.Equal(t, ReasonLookupError, status.Reason)
	})

	t.Run("lookup timeout", func(t *testing.T) {
		g := NewGate(slowEvents{}, WithLookupTimeout(20*time.Millisecond))
		status := g.VerifyRecent(context.Background(), uuid.New(), PresetGeneral)
		require.False(t, status.IsRecent)
		require.Equal(t, ReasonLookupError, status.Reason)
	})

	t.Run("no auth event", func(t *testing.T) {
		g := NewGate(memory.NewAuthEventStore())
		status := g.VerifyRecent(context.Background(), uuid.New(), PresetGeneral)
		require.False(t, status.IsRecent)
		require.Equal(t, ReasonNoAuthEvent, status.Reason)
	})
}

func TestRequire(t *testing.T) {
	userID := uuid.New()
	handler := func(g *Gate) http.Handler {
		return g.Require(PresetCritical)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}
	request := func() *http.Request {
		r := httptest.NewRequest(http.MethodDelete, "/api/v1/users/me", nil)
		return r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: userID}))
	}

	t.Run("recent", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(newGateWithAuthAt(t, userID, testNow.Add(-time.Minute))).ServeHTTP(w, request())
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("stale", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(newGateWithAuthAt(t, userID, testNow.Add(-time.Hour))).ServeHTTP(w, request())
		require.Equal(t, http.StatusForbidden, w.Code)

		var resp apierror.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, apierror.CodeReauthenticationRequired, resp.Code)
		require.EqualValues(t, 5, resp.Details["maxAgeMinutes"])
		require.Equal(t, testNow.Add(-time.Hour).Format(time.RFC3339), resp.Details["authenticatedAt"])
	})

	t.Run("store down denies", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(NewGate(failingEvents{})).ServeHTTP(w, request())
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(NewGate(failingEvents{})).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/", nil))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
