// Package ipallow restricts firm members to the networks their firm allows.
package ipallow

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	httpmiddleware "github.com/wolfeidau/firmguard/internal/http"
	"github.com/wolfeidau/firmguard/internal/store"
	"github.com/wolfeidau/firmguard/internal/telemetry"
)

const defaultLookupTimeout = 2 * time.Second

// Decision is the outcome of an allow list check.
type Decision int

const (
	DecisionAllowed Decision = iota
	DecisionDenied
	// DecisionUnrestricted means the firm has no restriction, or an empty
	// list which would otherwise lock every member out.
	DecisionUnrestricted
)

// Checker enforces per-firm IP allow lists. When the allow list cannot be
// loaded the request is allowed and the failure logged.
type Checker struct {
	store         store.AllowListStore
	lookupTimeout time.Duration
	metrics       *telemetry.Metrics
}

// Option configures a Checker.
type Option func(*Checker)

// WithLookupTimeout bounds the allow list lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Checker) { c.lookupTimeout = d }
}

// NewChecker creates a Checker.
func NewChecker(st store.AllowListStore, opts ...Option) *Checker {
	c := &Checker{
		store:         st,
		lookupTimeout: defaultLookupTimeout,
		metrics:       telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check decides whether addr may act for firmID. An invalid addr is denied
// when restriction is on.
func (c *Checker) Check(ctx context.Context, firmID uuid.UUID, addr netip.Addr) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	enabled, networks, err := c.store.AllowedNetworks(ctx, firmID)
	if err != nil {
		return DecisionAllowed, err
	}
	if !enabled || len(networks) == 0 {
		return DecisionUnrestricted, nil
	}
	if !addr.IsValid() {
		return DecisionDenied, nil
	}

	addr = addr.Unmap()
	for _, network := range networks {
		if network.Contains(addr) {
			return DecisionAllowed, nil
		}
	}
	return DecisionDenied, nil
}

// Middleware must run after authentication. Principals without a firm are
// not restricted.
func (c *Checker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			firmID := firmOf(r)
			if firmID == uuid.Nil {
				next.ServeHTTP(w, r)
				return
			}

			logger := zerolog.Ctx(r.Context())
			addr, _ := httpmiddleware.ParseClientIP(r)

			decision, err := c.Check(r.Context(), firmID, addr)
			if err != nil {
				logger.Error().Err(err).
					Str("firm_id", firmID.String()).
					Msg("IP allow list unavailable, allowing request")
				c.metrics.IPCheckFailOpenTotal.Add(r.Context(), 1)
				next.ServeHTTP(w, r)
				return
			}

			if decision == DecisionDenied {
				logger.Warn().
					Str("firm_id", firmID.String()).
					Str("client_ip", addr.String()).
					Msg("Request from address outside firm allow list")
				c.metrics.IPBlockedTotal.Add(r.Context(), 1)
				apierror.WriteResponse(w, http.StatusForbidden,
					apierror.New(apierror.CodeIPNotWhitelisted).WithDetails(map[string]any{"ip": addr.String()}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func firmOf(r *http.Request) uuid.UUID {
	if user := auth.UserFromContext(r.Context()); user != nil {
		if user.FirmID == nil {
			return uuid.Nil
		}
		return *user.FirmID
	}
	if principal := auth.PrincipalFromContext(r.Context()); principal != nil {
		return principal.FirmID
	}
	return uuid.Nil
}
