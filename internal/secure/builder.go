package secure

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/store"
	"github.com/wolfeidau/firmguard/internal/telemetry"
)

const (
	defaultLookupTimeout = 2 * time.Second
	defaultMaxRawBody    = 1 << 20
)

// Builder turns route security configs into middleware chains backed by the
// injected stores.
type Builder struct {
	authenticator *auth.Authenticator
	users         store.UserStore
	ownership     store.OwnershipResolver
	webhooks      map[string]WebhookVerifier
	postAuth      []func(http.Handler) http.Handler
	lookupTimeout time.Duration
	maxRawBody    int64
	metrics       *telemetry.Metrics
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWebhookVerifier registers a signature verifier for provider.
func WithWebhookVerifier(provider string, v WebhookVerifier) BuilderOption {
	return func(b *Builder) { b.webhooks[provider] = v }
}

// WithPostAuthentication runs mw, in order, immediately after a successful
// authentication. Session timeout and similar per-principal checks go here.
func WithPostAuthentication(mw ...func(http.Handler) http.Handler) BuilderOption {
	return func(b *Builder) { b.postAuth = append(b.postAuth, mw...) }
}

// WithLookupTimeout bounds identity and ownership lookups.
func WithLookupTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.lookupTimeout = d }
}

// WithMaxRawBody limits the body captured for webhook verification.
func WithMaxRawBody(n int64) BuilderOption {
	return func(b *Builder) { b.maxRawBody = n }
}

// NewBuilder creates a Builder.
func NewBuilder(authenticator *auth.Authenticator, users store.UserStore, ownership store.OwnershipResolver, opts ...BuilderOption) *Builder {
	b := &Builder{
		authenticator: authenticator,
		users:         users,
		ownership:     ownership,
		webhooks:      make(map[string]WebhookVerifier),
		lookupTimeout: defaultLookupTimeout,
		maxRawBody:    defaultMaxRawBody,
		metrics:       telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Secure composes cfg and returns the middleware chain. Errors are route
// registration mistakes: an unparseable permission, an unknown webhook
// provider, or a stage whose dependency was not provided.
func (b *Builder) Secure(cfg Config) (func(http.Handler) http.Handler, error) {
	res, err := Normalize(cfg)
	if err != nil {
		return nil, err
	}

	steps := composeResolved(res, cfg.Permission != nil)

	middlewares := make([]func(http.Handler) http.Handler, 0, len(steps))
	for _, step := range steps {
		mw, err := b.stage(step)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", step.Stage, err)
		}
		middlewares = append(middlewares, mw)
	}

	return chain(middlewares), nil
}

// MustSecure is Secure for route registration, panicking on a bad config.
func (b *Builder) MustSecure(cfg Config) func(http.Handler) http.Handler {
	mw, err := b.Secure(cfg)
	if err != nil {
		panic(err)
	}
	return mw
}

func (b *Builder) stage(step Step) (func(http.Handler) http.Handler, error) {
	switch step.Stage {
	case StagePreserveRawBody:
		return b.preserveRawBody, nil
	case StageWebhookSignature:
		verifier, ok := b.webhooks[step.Provider]
		if !ok {
			return nil, fmt.Errorf("no verifier registered for webhook provider %q", step.Provider)
		}
		return b.webhookSignature(step.Provider, verifier), nil
	case StageAuthenticate:
		if b.authenticator == nil {
			return nil, errors.New("authenticator not configured")
		}
		return chain(append([]func(http.Handler) http.Handler{b.authenticator.Middleware()}, b.postAuth...)), nil
	case StageFirmFilter:
		if b.users == nil {
			return nil, errors.New("user store not configured")
		}
		return b.firmFilter, nil
	case StageOwnerOnly:
		return b.ownerOnly, nil
	case StageAdminOnly:
		return b.adminOnly, nil
	case StagePermission:
		if step.Permission == nil {
			return nil, errors.New("permission not set")
		}
		return b.requirePermission(*step.Permission), nil
	case StageResourceAccess:
		if b.ownership == nil {
			return nil, errors.New("ownership resolver not configured")
		}
		return b.resourceAccess(*step.Resource), nil
	default:
		return nil, fmt.Errorf("unknown stage %d", int(step.Stage))
	}
}

// chain wraps h so the first middleware runs first.
func chain(middlewares []func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}
