package secure

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func (b *Builder) preserveRawBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.maxRawBody))
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Failed to read webhook body")
			apierror.Write(w, http.StatusRequestEntityTooLarge, apierror.CodeWebhookSignatureInvalid)
			return
		}
		_ = r.Body.Close()

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), rawBodyContextKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (b *Builder) webhookSignature(provider string, verifier WebhookVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := RawBodyFromContext(r.Context())
			if err := verifier.Verify(r, body); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("provider", provider).Msg("Webhook signature rejected")
				b.metrics.WebhookRejectedTotal.Add(r.Context(), 1,
					metric.WithAttributes(attribute.String("provider", provider)))
				apierror.Write(w, http.StatusUnauthorized, apierror.CodeWebhookSignatureInvalid)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loadUser returns the identity record for the principal, from the request
// cache when an earlier stage loaded it. It writes the error response and
// returns nil on failure.
func (b *Builder) loadUser(w http.ResponseWriter, r *http.Request) (*models.User, *http.Request) {
	if user := auth.UserFromContext(r.Context()); user != nil {
		return user, r
	}

	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		apierror.Write(w, http.StatusUnauthorized, apierror.CodeAuthRequired)
		return nil, r
	}

	ctx, cancel := context.WithTimeout(r.Context(), b.lookupTimeout)
	defer cancel()

	user, err := b.users.FindUser(ctx, principal.UserID)
	if err != nil {
		logger := zerolog.Ctx(r.Context())
		if errors.Is(err, store.ErrUserNotFound) {
			logger.Warn().Str("user_id", principal.UserID.String()).Msg("Token subject no longer exists")
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeAuthRequired)
			return nil, r
		}
		logger.Error().Err(err).Msg("Failed to load user")
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal)
		return nil, r
	}

	return user, r.WithContext(auth.WithUser(r.Context(), user))
}

func (b *Builder) deny(w http.ResponseWriter, r *http.Request, status int, code apierror.Code, details map[string]any) {
	b.metrics.AccessDeniedTotal.Add(r.Context(), 1, metric.WithAttributes(attribute.String("code", string(code))))
	zerolog.Ctx(r.Context()).Info().Str("code", string(code)).Str("path", r.URL.Path).Msg("Access denied")

	resp := apierror.New(code)
	if details != nil {
		resp = resp.WithDetails(details)
	}
	apierror.WriteResponse(w, status, resp)
}

func (b *Builder) firmFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, r := b.loadUser(w, r)
		if user == nil {
			return
		}

		if !user.HasFirm() {
			b.deny(w, r, http.StatusForbidden, apierror.CodeFirmRequired, nil)
			return
		}

		principal := auth.PrincipalFromContext(r.Context())
		if principal != nil && principal.FirmID != *user.FirmID {
			zerolog.Ctx(r.Context()).Debug().
				Str("token_firm_id", principal.FirmID.String()).
				Str("firm_id", user.FirmID.String()).
				Msg("Token firm differs from user record, using user record")
		}

		next.ServeHTTP(w, r.WithContext(WithFirmID(r.Context(), *user.FirmID)))
	})
}

func (b *Builder) ownerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, r, ok := b.role(w, r)
		if !ok {
			return
		}
		if role != models.RoleOwner {
			b.deny(w, r, http.StatusForbidden, apierror.CodeOwnerRequired, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Builder) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, r, ok := b.role(w, r)
		if !ok {
			return
		}
		if !role.IsAdmin() {
			b.deny(w, r, http.StatusForbidden, apierror.CodeAdminRequired, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Builder) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, r, ok := b.role(w, r)
			if !ok {
				return
			}
			if !auth.HasPermission(role, perm) {
				b.deny(w, r, http.StatusForbidden, apierror.CodePermissionDenied,
					map[string]any{"required": perm.String()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// role prefers the stored role over the token claim so that demotions take
// effect before the token expires. Without a user store the claim is used.
func (b *Builder) role(w http.ResponseWriter, r *http.Request) (models.Role, *http.Request, bool) {
	if b.users == nil {
		principal := auth.PrincipalFromContext(r.Context())
		if principal == nil {
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeAuthRequired)
			return "", r, false
		}
		return principal.Role, r, true
	}

	user, r := b.loadUser(w, r)
	if user == nil {
		return "", r, false
	}
	return user.Role, r, true
}

func (b *Builder) resourceAccess(ra ResourceAccess) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context())

			resourceID := chi.URLParam(r, ra.Param)
			if resourceID == "" {
				b.deny(w, r, http.StatusNotFound, apierror.CodeResourceNotFound, nil)
				return
			}

			firmID, ok := FirmIDFromContext(r.Context())
			if !ok {
				user, r2 := b.loadUser(w, r)
				if user == nil {
					return
				}
				r = r2
				if !user.HasFirm() {
					b.deny(w, r, http.StatusForbidden, apierror.CodeFirmRequired, nil)
					return
				}
				firmID = *user.FirmID
			}

			ctx, cancel := context.WithTimeout(r.Context(), b.lookupTimeout)
			defer cancel()

			owner, err := b.ownership.ResourceFirm(ctx, ra.Model, resourceID)
			switch {
			case errors.Is(err, store.ErrResourceNotFound):
				b.deny(w, r, http.StatusNotFound, apierror.CodeResourceNotFound,
					map[string]any{"model": ra.Model})
				return
			case err != nil:
				logger.Error().Err(err).Str("model", ra.Model).Msg("Failed to resolve resource owner")
				apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal)
				return
			}

			if owner != firmID {
				logger.Warn().
					Str("model", ra.Model).
					Str("resource_id", resourceID).
					Str("firm_id", firmID.String()).
					Msg("Cross-firm resource access attempt")
				b.deny(w, r, http.StatusForbidden, apierror.CodeResourceAccessDenied,
					map[string]any{"model": ra.Model})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
