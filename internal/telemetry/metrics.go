package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/firmguard"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session metrics
	SessionStoreErrorsTotal metric.Int64Counter
	SessionTimeoutsTotal    metric.Int64Counter
	SessionWarningsTotal    metric.Int64Counter

	// Authentication metrics
	AuthFailuresTotal metric.Int64Counter
	StepUpDeniedTotal metric.Int64Counter

	// Access control metrics
	AccessDeniedTotal     metric.Int64Counter
	IPBlockedTotal        metric.Int64Counter
	IPCheckFailOpenTotal  metric.Int64Counter
	WebhookRejectedTotal  metric.Int64Counter
	SanitizedRequestTotal metric.Int64Counter

	// API lifecycle metrics
	DeprecatedCallsTotal metric.Int64Counter

	// Monitoring metrics
	SecurityEventsTotal  metric.Int64Counter
	AnomalyScorerErrors  metric.Int64Counter
	SecuredRouteDuration metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Session metrics
	m.SessionStoreErrorsTotal, _ = meter.Int64Counter(
		"firmguard.session.store_errors.total",
		metric.WithDescription("Total number of activity store failures, requests were allowed through"),
		metric.WithUnit("{error}"),
	)

	m.SessionTimeoutsTotal, _ = meter.Int64Counter(
		"firmguard.session.timeouts.total",
		metric.WithDescription("Total number of sessions terminated by idle or absolute timeout"),
		metric.WithUnit("{session}"),
	)

	m.SessionWarningsTotal, _ = meter.Int64Counter(
		"firmguard.session.warnings.total",
		metric.WithDescription("Total number of responses carrying a session expiry warning"),
		metric.WithUnit("{response}"),
	)

	// Authentication metrics
	m.AuthFailuresTotal, _ = meter.Int64Counter(
		"firmguard.auth.failures.total",
		metric.WithDescription("Total number of rejected authentication attempts"),
		metric.WithUnit("{request}"),
	)

	m.StepUpDeniedTotal, _ = meter.Int64Counter(
		"firmguard.auth.stepup_denied.total",
		metric.WithDescription("Total number of requests requiring re-authentication"),
		metric.WithUnit("{request}"),
	)

	// Access control metrics
	m.AccessDeniedTotal, _ = meter.Int64Counter(
		"firmguard.access.denied.total",
		metric.WithDescription("Total number of requests denied by authorization stages"),
		metric.WithUnit("{request}"),
	)

	m.IPBlockedTotal, _ = meter.Int64Counter(
		"firmguard.ip.blocked.total",
		metric.WithDescription("Total number of requests from addresses outside the firm allow list"),
		metric.WithUnit("{request}"),
	)

	m.IPCheckFailOpenTotal, _ = meter.Int64Counter(
		"firmguard.ip.fail_open.total",
		metric.WithDescription("Total number of requests allowed because the allow list could not be loaded"),
		metric.WithUnit("{request}"),
	)

	m.WebhookRejectedTotal, _ = meter.Int64Counter(
		"firmguard.webhook.rejected.total",
		metric.WithDescription("Total number of webhook deliveries with an invalid signature"),
		metric.WithUnit("{request}"),
	)

	m.SanitizedRequestTotal, _ = meter.Int64Counter(
		"firmguard.sanitize.requests.total",
		metric.WithDescription("Total number of requests with operator keys removed or blocked"),
		metric.WithUnit("{request}"),
	)

	// API lifecycle metrics
	m.DeprecatedCallsTotal, _ = meter.Int64Counter(
		"firmguard.api.deprecated_calls.total",
		metric.WithDescription("Total number of calls to deprecated endpoints or versions"),
		metric.WithUnit("{request}"),
	)

	// Monitoring metrics
	m.SecurityEventsTotal, _ = meter.Int64Counter(
		"firmguard.security.events.total",
		metric.WithDescription("Total number of security relevant responses observed"),
		metric.WithUnit("{event}"),
	)

	m.AnomalyScorerErrors, _ = meter.Int64Counter(
		"firmguard.security.scorer_errors.total",
		metric.WithDescription("Total number of anomaly scorer failures"),
		metric.WithUnit("{error}"),
	)

	m.SecuredRouteDuration, _ = meter.Float64Histogram(
		"firmguard.security.route.duration",
		metric.WithDescription("Duration of requests through secured routes"),
		metric.WithUnit("ms"),
	)

	return m
}
