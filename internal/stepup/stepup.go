package stepup

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/store"
	"github.com/wolfeidau/firmguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Named re-authentication windows.
const (
	// PresetCritical covers payments and account deletion.
	PresetCritical = 5 * time.Minute
	// PresetSensitive covers security and billing settings.
	PresetSensitive = 60 * time.Minute
	// PresetGeneral covers other sensitive operations.
	PresetGeneral = 24 * time.Hour
)

// Reasons reported in Status.
const (
	ReasonRecent      = "recent"
	ReasonStale       = "stale"
	ReasonNoAuthEvent = "no_auth_event"
	ReasonLookupError = "lookup_error"
)

const defaultLookupTimeout = 2 * time.Second

// Status describes how recently a user proved their credentials.
type Status struct {
	IsRecent        bool      `json:"isRecent"`
	AuthenticatedAt time.Time `json:"authenticatedAt,omitzero"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`
	Reason          string    `json:"reason"`
}

// Gate decides whether a sensitive operation may proceed without
// re-authentication. Lookup failures deny.
type Gate struct {
	events        store.AuthEventStore
	lookupTimeout time.Duration
	now           func() time.Time
	metrics       *telemetry.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLookupTimeout bounds the auth event lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(g *Gate) { g.lookupTimeout = d }
}

// NewGate creates a step-up gate backed by the auth event store.
func NewGate(events store.AuthEventStore, opts ...Option) *Gate {
	g := &Gate{
		events:        events,
		lookupTimeout: defaultLookupTimeout,
		now:           time.Now,
		metrics:       telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// VerifyRecent reports whether the user authenticated within maxAge.
func (g *Gate) VerifyRecent(ctx context.Context, userID uuid.UUID, maxAge time.Duration) Status {
	lookupCtx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()

	authenticatedAt, ok, err := g.events.LastAuthTimestamp(lookupCtx, userID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("user_id", userID.String()).
			Msg("Auth event lookup failed, requiring re-authentication")
		return Status{Reason: ReasonLookupError}
	}
	if !ok {
		return Status{Reason: ReasonNoAuthEvent}
	}

	status := Status{
		AuthenticatedAt: authenticatedAt,
		ExpiresAt:       authenticatedAt.Add(maxAge),
		Reason:          ReasonStale,
	}
	if g.now().Sub(authenticatedAt) <= maxAge {
		status.IsRecent = true
		status.Reason = ReasonRecent
	}
	return status
}

// Require returns middleware demanding an authentication within maxAge. It
// must run after authentication.
func (g *Gate) Require(maxAge time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFromContext(r.Context())
			if principal == nil {
				apierror.Write(w, http.StatusUnauthorized, apierror.CodeAuthRequired)
				return
			}

			status := g.VerifyRecent(r.Context(), principal.UserID, maxAge)
			if status.IsRecent {
				next.ServeHTTP(w, r)
				return
			}

			g.metrics.StepUpDeniedTotal.Add(r.Context(), 1,
				metric.WithAttributes(attribute.String("reason", status.Reason)))

			details := map[string]any{
				"maxAgeMinutes": int(maxAge.Minutes()),
				"reason":        status.Reason,
			}
			if !status.AuthenticatedAt.IsZero() {
				details["authenticatedAt"] = status.AuthenticatedAt.UTC().Format(time.RFC3339)
			}
			apierror.WriteResponse(w, http.StatusForbidden,
				apierror.New(apierror.CodeReauthenticationRequired).WithDetails(details))
		})
	}
}
