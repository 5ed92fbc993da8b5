// Package emailverify blocks unverified accounts from routes that require a
// confirmed email address.
package emailverify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/routematch"
	"github.com/wolfeidau/firmguard/internal/store"
)

const defaultLookupTimeout = 2 * time.Second

// Gate checks the verification flag of the authenticated user on routes
// classified as always required or required.
type Gate struct {
	patterns      routematch.PatternSet
	users         store.UserStore
	lookupTimeout time.Duration
}

// NewGate creates a gate over the given route patterns.
func NewGate(patterns routematch.PatternSet, users store.UserStore) *Gate {
	return &Gate{
		patterns:      patterns,
		users:         users,
		lookupTimeout: defaultLookupTimeout,
	}
}

// Middleware must run after authentication. A user that no longer exists is
// answered with 401 AUTH_REQUIRED; any other lookup failure lets the
// request through.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := routematch.Classify(r.URL.Path, g.patterns)
			if !tier.Requires() {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.PrincipalFromContext(r.Context())
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}

			logger := zerolog.Ctx(r.Context())

			user := auth.UserFromContext(r.Context())
			if user == nil {
				ctx, cancel := context.WithTimeout(r.Context(), g.lookupTimeout)
				found, err := g.users.FindUser(ctx, principal.UserID)
				cancel()
				switch {
				case errors.Is(err, store.ErrUserNotFound):
					apierror.Write(w, http.StatusUnauthorized, apierror.CodeAuthRequired)
					return
				case err != nil:
					logger.Warn().Err(err).Msg("User lookup failed, skipping email verification check")
					next.ServeHTTP(w, r)
					return
				}
				user = found
				r = r.WithContext(auth.WithUser(r.Context(), user))
			}

			if !user.IsEmailVerified {
				logger.Info().Str("tier", tier.String()).Str("path", r.URL.Path).Msg("Email verification required")
				apierror.WriteResponse(w, http.StatusForbidden,
					apierror.New(apierror.CodeEmailVerificationNeeded).WithDetails(map[string]any{
						"email":               user.Email,
						"verificationPending": true,
					}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
