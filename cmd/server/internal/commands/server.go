package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/deprecation"
	"github.com/wolfeidau/firmguard/internal/fieldcrypt"
	httpmiddleware "github.com/wolfeidau/firmguard/internal/http"
	"github.com/wolfeidau/firmguard/internal/logger"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/monitor"
	"github.com/wolfeidau/firmguard/internal/reshape"
	"github.com/wolfeidau/firmguard/internal/routematch"
	"github.com/wolfeidau/firmguard/internal/sanitize"
	"github.com/wolfeidau/firmguard/internal/secure"
	"github.com/wolfeidau/firmguard/internal/session"
	"github.com/wolfeidau/firmguard/internal/store"
	"github.com/wolfeidau/firmguard/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8443" env:"FIRMGUARD_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"FIRMGUARD_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"FIRMGUARD_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"FIRMGUARD_CORS_ORIGINS"`

	// Proxies whose X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string `help:"CIDRs or addresses of reverse proxies trusted to report the client IP" env:"FIRMGUARD_TRUSTED_PROXIES"`

	// Token configuration
	JWTSecret string        `help:"HMAC secret for session tokens" env:"FIRMGUARD_JWT_SECRET"`
	Issuer    string        `help:"token issuer" default:"firmguard" env:"FIRMGUARD_JWT_ISSUER"`
	TokenTTL  time.Duration `help:"lifetime of issued tokens" default:"24h" env:"FIRMGUARD_TOKEN_TTL"`

	// Field encryption
	FieldKey  string `help:"master key for field level encryption (>= 32 bytes)" env:"FIRMGUARD_FIELD_KEY"`
	FieldSalt string `help:"HKDF salt for field keys" default:"firmguard" env:"FIRMGUARD_FIELD_SALT"`

	// API behaviour
	NativeVersion    int    `help:"API version handlers produce" default:"2" enum:"1,2" env:"FIRMGUARD_NATIVE_VERSION"`
	StrictSanitize   bool   `help:"reject requests containing operator keys instead of stripping them" env:"FIRMGUARD_STRICT_SANITIZE"`
	EmailPatterns    string `help:"YAML file with email verification route patterns" default:"" env:"FIRMGUARD_EMAIL_PATTERNS_FILE"`
	DeprecationsFile string `help:"YAML file with API deprecation rules" default:"" env:"FIRMGUARD_DEPRECATIONS_FILE"`
	DemoLogin        bool   `help:"enable the login endpoint for the seeded demo accounts (password firmguard-demo, development only)" env:"FIRMGUARD_DEMO_LOGIN"`

	// Telemetry
	Telemetry        bool    `help:"export metrics over OTLP" default:"false" env:"FIRMGUARD_TELEMETRY"`
	Tracing          bool    `help:"export traces over OTLP" default:"false" env:"FIRMGUARD_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces sampled" default:"1" env:"FIRMGUARD_TRACE_SAMPLE_RATIO"`

	Session  SessionFlags  `embed:"" prefix:"session-"`
	Webhooks WebhookFlags  `embed:"" prefix:"webhook-"`
	Anomaly  AnomalyFlags  `embed:"" prefix:"anomaly-"`
	Stores   StoreFlags    `embed:""`
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
	Redis    RedisFlags    `embed:"" prefix:"redis-"`
}

// SessionFlags configures the session timeout policy.
type SessionFlags struct {
	IdleTimeout       time.Duration `help:"idle timeout" default:"30m" env:"FIRMGUARD_SESSION_IDLE_TIMEOUT"`
	AbsoluteTimeout   time.Duration `help:"absolute timeout" default:"24h" env:"FIRMGUARD_SESSION_ABSOLUTE_TIMEOUT"`
	RememberMeTimeout time.Duration `help:"absolute timeout for remember-me sessions" default:"168h" env:"FIRMGUARD_SESSION_REMEMBER_ME_TIMEOUT"`
	WarningBefore     time.Duration `help:"warn this long before expiry" default:"5m" env:"FIRMGUARD_SESSION_WARNING_BEFORE"`
	StoreTimeout      time.Duration `help:"timeout for activity store calls" default:"2s" env:"FIRMGUARD_SESSION_STORE_TIMEOUT"`
}

func (s SessionFlags) policy() session.Policy {
	p := session.Policy{
		IdleTimeout:       s.IdleTimeout,
		AbsoluteTimeout:   s.AbsoluteTimeout,
		RememberMeTimeout: s.RememberMeTimeout,
		WarningBefore:     s.WarningBefore,
		StoreTimeout:      s.StoreTimeout,
	}
	p.ApplyDefaults()
	return p
}

// WebhookFlags holds the webhook signing secrets. A provider without a
// secret is not registered and its routes fail to build.
type WebhookFlags struct {
	StripeSecret    string        `help:"Stripe endpoint signing secret" env:"FIRMGUARD_WEBHOOK_STRIPE_SECRET"`
	StripeTolerance time.Duration `help:"accepted Stripe timestamp age" default:"5m" env:"FIRMGUARD_WEBHOOK_STRIPE_TOLERANCE"`
	HMACSecret      string        `help:"shared secret for X-Signature webhooks" env:"FIRMGUARD_WEBHOOK_HMAC_SECRET"`
}

func (f WebhookFlags) verifiers() map[string]secure.WebhookVerifier {
	verifiers := map[string]secure.WebhookVerifier{}
	if f.StripeSecret != "" {
		verifiers[providerStripe] = &secure.StripeVerifier{Secret: []byte(f.StripeSecret), Tolerance: f.StripeTolerance}
	}
	if f.HMACSecret != "" {
		verifiers[providerSigned] = &secure.HMACVerifier{Secret: []byte(f.HMACSecret)}
	}
	return verifiers
}

// AnomalyFlags configures the security event scorer.
type AnomalyFlags struct {
	Window    time.Duration `help:"sliding window for security events per client" default:"5m" env:"FIRMGUARD_ANOMALY_WINDOW"`
	Limit     int           `help:"security events per window considered anomalous" default:"20" env:"FIRMGUARD_ANOMALY_LIMIT"`
	Threshold float64       `help:"score at which events are logged as anomalous" default:"1" env:"FIRMGUARD_ANOMALY_THRESHOLD"`

	AuditFlushInterval time.Duration `help:"how often buffered security events are written to the audit store" default:"2s" env:"FIRMGUARD_AUDIT_FLUSH_INTERVAL"`
	AuditBatchSize     int           `help:"security events written per audit batch" default:"50" env:"FIRMGUARD_AUDIT_BATCH_SIZE"`
}

func (c *ServerCmd) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 bytes (--jwt-secret or FIRMGUARD_JWT_SECRET)")
	}
	if len(c.FieldKey) < 32 {
		return errors.New("field key must be at least 32 bytes (--field-key or FIRMGUARD_FIELD_KEY)")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxy: %w", err)
	}
	if err := c.Session.policy().Validate(); err != nil {
		return fmt.Errorf("invalid session policy: %w", err)
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zerolog.DefaultContextLogger = &log
	ctx := log.WithContext(context.Background())

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Telemetry || c.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "firmguard",
			Version:     globals.Version,
			Traces:      c.Tracing,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			}()
		}
	}

	stores, closeStores, err := c.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	audit := newAuditTrail(ctx, stores.SecurityEvents, monitor.BatchConfig{
		FlushInterval: c.Anomaly.AuditFlushInterval,
		MaxBatchSize:  c.Anomaly.AuditBatchSize,
	})
	defer func() {
		if err := audit.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to flush security audit")
		}
	}()

	deps, err := c.dependencies(log, globals, stores, audit)
	if err != nil {
		return err
	}

	if c.DemoLogin {
		log.Warn().Msg("Demo login is enabled (--demo-login). This should only be used in development!")
		if c.Stores.StoreType == storeMemory {
			if err := seedDemo(ctx, deps); err != nil {
				return fmt.Errorf("failed to seed demo data: %w", err)
			}
		}
	}

	handler, err := newRouter(deps)
	if err != nil {
		return fmt.Errorf("failed to build routes: %w", err)
	}

	srv := configureHTTPServer(c.Listen, handler)

	if c.Cert != "" {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	go func() {
		if c.Cert == "" {
			log.Warn().Str("addr", c.Listen).Msg("Starting plain HTTP server, session cookies will not be marked secure")
			errCh <- srv.ListenAndServe()
			return
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// newAuditTrail batches monitor events into the security event store.
func newAuditTrail(ctx context.Context, events store.SecurityEventStore, config monitor.BatchConfig) *monitor.EventBatcher {
	return monitor.NewEventBatcher(config, func(batch []monitor.Event) error {
		rows := make([]models.SecurityEvent, 0, len(batch))
		for _, e := range batch {
			row := models.SecurityEvent{
				Kind:      string(e.Kind),
				Code:      string(e.Code),
				Status:    e.Status,
				ClientIP:  e.ClientIP,
				Method:    e.Method,
				Path:      e.Path,
				Score:     e.Score,
				CreatedAt: e.At,
			}
			if e.UserID != uuid.Nil {
				userID := e.UserID
				row.UserID = &userID
			}
			rows = append(rows, row)
		}
		return events.RecordSecurityEvents(context.WithoutCancel(ctx), rows)
	})
}

// dependencies builds the security components from flags and stores.
func (c *ServerCmd) dependencies(log zerolog.Logger, globals *Globals, stores *storeSet, audit *monitor.EventBatcher) (*routerDeps, error) {
	authenticator, err := auth.NewAuthenticator([]byte(c.JWTSecret), c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	cipher, err := fieldcrypt.NewCipher([]byte(c.FieldKey), []byte(c.FieldSalt))
	if err != nil {
		return nil, fmt.Errorf("failed to create field cipher: %w", err)
	}

	patterns := routematch.DefaultEmailVerificationPatterns()
	if c.EmailPatterns != "" {
		patterns, err = loadFile(c.EmailPatterns, routematch.LoadPatternSet)
		if err != nil {
			return nil, err
		}
	}

	var rules []deprecation.Rule
	if c.DeprecationsFile != "" {
		rules, err = loadFile(c.DeprecationsFile, deprecation.LoadRules)
		if err != nil {
			return nil, err
		}
	}

	trustedProxies, err := httpmiddleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxy: %w", err)
	}

	native := reshape.Version(c.NativeVersion)
	deprecations, err := deprecation.NewRegistry(rules, native)
	if err != nil {
		return nil, fmt.Errorf("invalid deprecation rules: %w", err)
	}

	return &routerDeps{
		Logger:        log,
		Version:       globals.Version,
		Stores:        stores,
		Authenticator: authenticator,
		Secret:        []byte(c.JWTSecret),
		Issuer:        c.Issuer,
		TokenTTL:      c.TokenTTL,
		Cipher:        cipher,
		FieldPolicy:   fieldcrypt.DefaultPolicy(),
		Native:        native,
		Transformer:   defaultTransformer(),
		EmailPatterns: patterns,
		Deprecations:  deprecations,
		Sanitize:      sanitize.Options{Strict: c.StrictSanitize},
		SessionPolicy: c.Session.policy(),
		Webhooks:      c.Webhooks.verifiers(),
		Monitor: monitor.New(
			monitor.NewWindowScorer(c.Anomaly.Window, c.Anomaly.Limit),
			monitor.WithThreshold(c.Anomaly.Threshold),
			monitor.WithAudit(audit),
		),
		CORSOrigins:    c.CORSOrigins,
		TrustedProxies: trustedProxies,
		DemoLogin:      c.DemoLogin,
	}, nil
}

func loadFile[T any](path string, load func(r io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	v, err := load(f)
	if err != nil {
		return zero, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return v, nil
}
