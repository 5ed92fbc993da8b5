// Package monitor observes the outcome of secured requests and reports
// security relevant events to metrics and an anomaly scorer.
package monitor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	httpmiddleware "github.com/wolfeidau/firmguard/internal/http"
	"github.com/wolfeidau/firmguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Kind classifies a security event.
type Kind string

const (
	KindAuthFailure     Kind = "auth_failure"
	KindSessionTimeout  Kind = "session_timeout"
	KindStepUpRequired  Kind = "stepup_required"
	KindForbidden       Kind = "forbidden"
	KindIPBlocked       Kind = "ip_blocked"
	KindWebhookRejected Kind = "webhook_rejected"
	KindInputBlocked    Kind = "input_blocked"
)

// Event is a security relevant request outcome.
type Event struct {
	Kind     Kind
	Code     apierror.Code
	Status   int
	UserID   uuid.UUID // uuid.Nil for anonymous requests
	ClientIP string
	Method   string
	Path     string
	At       time.Time
	Score    float64 // set by Record when a scorer is configured
}

// AnomalyScorer rates how unusual an event is, from 0 (normal) upwards.
type AnomalyScorer interface {
	Score(ctx context.Context, event Event) (float64, error)
}

const (
	defaultThreshold    = 1.0
	defaultScoreTimeout = 500 * time.Millisecond
)

// Monitor records security events for every request passing through it.
type Monitor struct {
	scorer       AnomalyScorer
	threshold    float64
	scoreTimeout time.Duration
	now          func() time.Time
	metrics      *telemetry.Metrics
	audit        *EventBatcher
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThreshold sets the score at which an event is logged as anomalous.
func WithThreshold(t float64) Option {
	return func(m *Monitor) { m.threshold = t }
}

// WithScoreTimeout bounds each scorer call.
func WithScoreTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.scoreTimeout = d }
}

// WithAudit appends every recorded event to the batcher's audit trail.
func WithAudit(b *EventBatcher) Option {
	return func(m *Monitor) { m.audit = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. scorer may be nil.
func New(scorer AnomalyScorer, opts ...Option) *Monitor {
	m := &Monitor{
		scorer:       scorer,
		threshold:    defaultThreshold,
		scoreTimeout: defaultScoreTimeout,
		now:          time.Now,
		metrics:      telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify maps a response to an event kind. ok is false for responses
// that are not security events.
func Classify(status int, code apierror.Code) (Kind, bool) {
	switch code {
	case apierror.CodeSessionIdleTimeout, apierror.CodeSessionAbsoluteTimeout:
		return KindSessionTimeout, true
	case apierror.CodeReauthenticationRequired:
		return KindStepUpRequired, true
	case apierror.CodeIPNotWhitelisted:
		return KindIPBlocked, true
	case apierror.CodeWebhookSignatureInvalid:
		return KindWebhookRejected, true
	case apierror.CodeSanitizationBlocked, apierror.CodeInvalidEncryptedData:
		return KindInputBlocked, true
	}

	switch status {
	case http.StatusUnauthorized:
		return KindAuthFailure, true
	case http.StatusForbidden:
		return KindForbidden, true
	}
	return "", false
}

// Middleware wraps the secured part of the router. Events carry the user
// only when a principal is already on the request context when it arrives.
func (m *Monitor) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics := httpsnoop.CaptureMetrics(next, w, r)

			m.metrics.SecuredRouteDuration.Record(r.Context(), float64(metrics.Duration.Milliseconds()),
				metric.WithAttributes(attribute.Int("status", metrics.Code)))

			code := apierror.Code(w.Header().Get(apierror.CodeHeader))
			kind, ok := Classify(metrics.Code, code)
			if !ok {
				return
			}

			event := Event{
				Kind:     kind,
				Code:     code,
				Status:   metrics.Code,
				ClientIP: httpmiddleware.ClientIP(r),
				Method:   r.Method,
				Path:     r.URL.Path,
				At:       m.now(),
			}
			if principal := auth.PrincipalFromContext(r.Context()); principal != nil {
				event.UserID = principal.UserID
			}

			m.Record(r.Context(), event)
		})
	}
}

// Record counts the event, scores it and appends it to the audit trail.
// Scorer and audit failures are logged and otherwise ignored.
func (m *Monitor) Record(ctx context.Context, event Event) {
	logger := zerolog.Ctx(ctx)

	m.metrics.SecurityEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(event.Kind)),
		attribute.String("code", strings.ToLower(string(event.Code))),
	))

	if m.scorer != nil {
		m.score(ctx, &event)
	}

	if m.audit != nil {
		if err := m.audit.Add(event); err != nil {
			logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to write security audit")
		}
	}
}

func (m *Monitor) score(ctx context.Context, event *Event) {
	logger := zerolog.Ctx(ctx)

	scoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.scoreTimeout)
	defer cancel()

	score, err := m.scorer.Score(scoreCtx, *event)
	if err != nil {
		logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("Anomaly scorer failed")
		m.metrics.AnomalyScorerErrors.Add(ctx, 1)
		return
	}
	event.Score = score

	if score >= m.threshold {
		logger.Warn().
			Str("kind", string(event.Kind)).
			Str("client_ip", event.ClientIP).
			Str("user_id", event.UserID.String()).
			Str("path", event.Path).
			Float64("score", score).
			Msg("Anomalous security activity")
	}
}
