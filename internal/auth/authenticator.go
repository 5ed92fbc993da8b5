package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Token verification failures.
var (
	ErrTokenMissing     = errors.New("token missing")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrTokenInvalid     = errors.New("token invalid")
)

// Authenticator verifies HS256 access tokens taken from the Authorization
// header or, for browser clients, from the session cookie.
type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLeeway allows for clock skew when validating time based claims.
func WithLeeway(d time.Duration) AuthenticatorOption {
	return func(a *Authenticator) { a.leeway = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator creates an authenticator for tokens signed with secret
// and issued by issuer.
func NewAuthenticator(secret []byte, issuer string, opts ...AuthenticatorOption) (*Authenticator, error) {
	if len(secret) < 32 {
		return nil, errors.New("JWT secret must be at least 32 bytes")
	}

	a := &Authenticator{
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Verify validates a token and returns its principal. Errors wrap one of the
// ErrToken* sentinels.
func (a *Authenticator) Verify(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	return principalFromClaims(claims)
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrTokenNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}

func principalFromClaims(claims *Claims) (*Principal, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sub claim: %w", ErrTokenInvalid, err)
	}

	var firmID uuid.UUID
	if claims.FirmID != "" {
		firmID, err = uuid.Parse(claims.FirmID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid firm_id claim: %w", ErrTokenInvalid, err)
		}
	}

	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat claim", ErrTokenInvalid)
	}

	return &Principal{
		UserID:     userID,
		FirmID:     firmID,
		Role:       models.Role(claims.Role),
		Email:      claims.Email,
		TokenID:    claims.ID,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
		RememberMe: claims.RememberMe,
	}, nil
}

// Middleware returns an HTTP middleware that authenticates the request and
// stores the principal in the context. Failures are written as 401 with
// AUTH_REQUIRED, TOKEN_EXPIRED or TOKEN_INVALID.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	metrics := telemetry.GetMetrics()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := zerolog.Ctx(r.Context())

			principal, err := a.Verify(ExtractToken(r))
			if err != nil {
				code := CodeForTokenError(err)
				logger.Warn().Err(err).Str("code", string(code)).Msg("Authentication failed")
				metrics.AuthFailuresTotal.Add(r.Context(), 1,
					metric.WithAttributes(attribute.String("code", strings.ToLower(string(code)))))
				apierror.Write(w, http.StatusUnauthorized, code)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CodeForTokenError maps a verification error to its client facing code.
func CodeForTokenError(err error) apierror.Code {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return apierror.CodeAuthRequired
	case errors.Is(err, ErrTokenExpired):
		return apierror.CodeTokenExpired
	default:
		return apierror.CodeTokenInvalid
	}
}

// ExtractToken returns the bearer token, falling back to the session cookie.
func ExtractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
