package commands

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/deprecation"
	"github.com/wolfeidau/firmguard/internal/emailverify"
	"github.com/wolfeidau/firmguard/internal/fieldcrypt"
	httpmiddleware "github.com/wolfeidau/firmguard/internal/http"
	"github.com/wolfeidau/firmguard/internal/ipallow"
	"github.com/wolfeidau/firmguard/internal/logger"
	"github.com/wolfeidau/firmguard/internal/monitor"
	"github.com/wolfeidau/firmguard/internal/reshape"
	"github.com/wolfeidau/firmguard/internal/routematch"
	"github.com/wolfeidau/firmguard/internal/sanitize"
	"github.com/wolfeidau/firmguard/internal/secure"
	"github.com/wolfeidau/firmguard/internal/session"
	"github.com/wolfeidau/firmguard/internal/stepup"
)

// Webhook providers.
const (
	providerStripe = "stripe"
	providerSigned = "signed"
)

// routerDeps carries everything the router needs. Tests build it directly.
type routerDeps struct {
	Logger        zerolog.Logger
	Version       string
	Stores        *storeSet
	Authenticator *auth.Authenticator
	Secret        []byte
	Issuer        string
	TokenTTL      time.Duration
	Cipher        *fieldcrypt.Cipher
	FieldPolicy   fieldcrypt.Policy
	Native        reshape.Version
	Transformer   *reshape.Transformer
	EmailPatterns routematch.PatternSet
	Deprecations  *deprecation.Registry
	Sanitize      sanitize.Options
	SessionPolicy session.Policy
	Webhooks      map[string]secure.WebhookVerifier
	Monitor       *monitor.Monitor
	CORSOrigins   []string
	// TrustedProxies may report the client address in forwarding headers
	TrustedProxies []netip.Prefix
	DemoLogin      bool
	Now            func() time.Time
}

// defaultTransformer maps the v1 snake_case API onto the native v2 names.
func defaultTransformer() *reshape.Transformer {
	return &reshape.Transformer{
		Aliases: reshape.AliasTable{
			"firm_id":           "firmId",
			"case_number":       "caseNumber",
			"opened_at":         "openedAt",
			"created_at":        "createdAt",
			"national_id":       "nationalId",
			"is_email_verified": "isEmailVerified",
			"expires_at":        "expiresAt",
			"issued_at":         "issuedAt",
			"remember_me":       "rememberMe",
			"user_id":           "userId",
		},
		DateFields: []string{"opened_at", "created_at", "expires_at", "issued_at"},
	}
}

// route is one API endpoint: its security config, extra guards run after
// the security stack, and the handler.
type route struct {
	method  string
	pattern string
	config  secure.Config
	guards  []func(http.Handler) http.Handler
	handler http.Handler
}

func (h *handlers) wrap(fn reshape.ResultHandler) http.Handler {
	return reshape.Wrap(fn, h.transformer, h.native, h.post)
}

func newRouter(d *routerDeps) (http.Handler, error) {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	sessions := session.NewEngine(d.Stores.Activity, d.SessionPolicy)
	stepUp := stepup.NewGate(d.Stores.AuthEvents)
	ips := ipallow.NewChecker(d.Stores.AllowLists)
	emails := emailverify.NewGate(d.EmailPatterns, d.Stores.Users)

	opts := []secure.BuilderOption{
		secure.WithPostAuthentication(sessions.Middleware(), ips.Middleware(), emails.Middleware()),
	}
	for provider, verifier := range d.Webhooks {
		opts = append(opts, secure.WithWebhookVerifier(provider, verifier))
	}
	builder := secure.NewBuilder(d.Authenticator, d.Stores.Users, d.Stores.Ownership, opts...)

	h := &handlers{
		version:     d.Version,
		native:      d.Native,
		transformer: d.Transformer,
		post:        fieldcrypt.ResponseProcessor(d.Cipher, d.FieldPolicy),
		stores:      d.Stores,
		sessions:    sessions,
		stepUp:      stepUp,
		cipher:      d.Cipher,
		policy:      d.FieldPolicy,
		secret:      d.Secret,
		issuer:      d.Issuer,
		tokenTTL:    d.TokenTTL,
		now:         now,
	}

	public := secure.Config{Auth: secure.Bool(false)}
	personal := secure.Config{FirmFilter: secure.Bool(false)}

	routes := []route{
		{method: http.MethodPost, pattern: "/auth/logout", config: personal, handler: h.logout()},
		{method: http.MethodPost, pattern: "/auth/reauthenticate", config: personal, handler: h.wrap(h.reauthenticate)},
		{method: http.MethodGet, pattern: "/auth/status", config: personal, handler: h.wrap(h.authStatus)},
		{method: http.MethodGet, pattern: "/users/me", config: personal, handler: h.wrap(h.me)},

		{method: http.MethodGet, pattern: "/cases", config: secure.Config{Permission: "cases:view"}, handler: h.wrap(h.listCases)},
		{method: http.MethodGet, pattern: "/cases/{id}", config: secure.Config{Permission: "cases:view", Model: modelCase}, handler: h.wrap(h.getCase)},
		{
			method:  http.MethodDelete,
			pattern: "/cases/{id}",
			config:  secure.Config{Permission: "cases:delete", Model: modelCase},
			guards:  []func(http.Handler) http.Handler{stepUp.Require(stepup.PresetSensitive)},
			handler: h.wrap(h.deleteCase),
		},

		{method: http.MethodGet, pattern: "/clients/{id}", config: secure.Config{Permission: "clients:view", Model: modelClient}, handler: h.wrap(h.getClient)},
		{
			method:  http.MethodPost,
			pattern: "/clients",
			config:  secure.Config{Permission: "clients:create"},
			guards:  []func(http.Handler) http.Handler{d.Cipher.DecryptRequest(d.FieldPolicy.Encrypted)},
			handler: h.wrap(h.createClient),
		},

		{method: http.MethodGet, pattern: "/firm/allowlist", config: secure.Config{AdminOnly: true}, handler: h.wrap(h.listAllowedNetworks)},
		{
			method:  http.MethodPost,
			pattern: "/firm/allowlist",
			config:  secure.Config{AdminOnly: true},
			guards:  []func(http.Handler) http.Handler{stepUp.Require(stepup.PresetSensitive)},
			handler: h.wrap(h.addAllowedNetwork),
		},
		{
			method:  http.MethodPost,
			pattern: "/firms/transfer-ownership",
			config:  secure.Config{OwnerOnly: true},
			guards:  []func(http.Handler) http.Handler{stepUp.Require(stepup.PresetCritical)},
			handler: h.wrap(h.transferOwnership),
		},
	}

	if d.DemoLogin {
		routes = append(routes, route{method: http.MethodPost, pattern: "/auth/login", config: public, handler: h.login()})
	}

	// webhook routes exist only for providers with a configured secret
	for _, provider := range []string{providerStripe, providerSigned} {
		if _, ok := d.Webhooks[provider]; !ok {
			continue
		}
		routes = append(routes, route{
			method:  http.MethodPost,
			pattern: "/webhooks/" + provider,
			config:  secure.Config{WebhookAuth: provider},
			handler: h.wrap(h.webhook(provider)),
		})
	}

	api := chi.NewRouter()
	api.Use(d.Monitor.Middleware())
	for _, rt := range routes {
		stack, err := builder.Secure(rt.config)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}

		middlewares := []func(http.Handler) http.Handler{stack}
		// webhook bodies must reach signature verification byte for byte
		if rt.config.WebhookAuth == "" {
			middlewares = append(middlewares, sanitize.Middleware(d.Sanitize))
		}
		middlewares = append(middlewares, rt.guards...)

		api.With(middlewares...).Method(rt.method, rt.pattern, rt.handler)
	}

	root := chi.NewRouter()
	root.Use(
		httpmiddleware.ClientIPMiddleware(d.TrustedProxies...),
		logger.RequestLogger(d.Logger),
		withCORS(d.CORSOrigins),
		crossOriginProtection(),
		compress,
		d.Deprecations.Middleware(),
	)
	root.Method(http.MethodGet, "/health", h.wrap(h.health))
	root.Mount("/api/v1", api)
	root.Mount("/api/v2", api)
	root.Mount("/api", api)

	return root, nil
}

// withCORS allows the configured browser origins to call the API with
// cookies and exposes the headers the security middleware sets.
func withCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", reshape.AcceptVersionHeader, reshape.APIVersionHeader},
		ExposedHeaders: []string{
			reshape.APIVersionHeader,
			session.IdleWarningHeader,
			session.AbsoluteWarningHeader,
			deprecation.HeaderDeprecation,
			deprecation.HeaderSunset,
			deprecation.HeaderLink,
			deprecation.HeaderDeprecatedVersion,
			logger.RequestIDHeader,
		},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler
}

// crossOriginProtection rejects cross-origin state changing requests that
// rely on the session cookie. Bearer token requests are not exposed to
// CSRF and skip the check.
func crossOriginProtection() func(http.Handler) http.Handler {
	protection := csrf.New()
	return func(next http.Handler) http.Handler {
		protected := protection.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
