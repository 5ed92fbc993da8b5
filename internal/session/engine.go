package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/store"
	"github.com/wolfeidau/firmguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Result is the outcome of a timeout check.
type Result int

const (
	ResultOK Result = iota
	ResultAbsoluteExpired
	ResultIdleExpired
)

func (r Result) String() string {
	switch r {
	case ResultAbsoluteExpired:
		return "absolute_expired"
	case ResultIdleExpired:
		return "idle_expired"
	default:
		return "ok"
	}
}

// Subject identifies the session being checked.
type Subject struct {
	UserID     uuid.UUID
	IssuedAt   time.Time // authentication time
	RememberMe bool
}

// Check is the result of CheckTimeout.
type Check struct {
	Result            Result
	IdleRemaining     time.Duration
	AbsoluteRemaining time.Duration
	IdleWarning       bool
	AbsoluteWarning   bool

	// Degraded is set when the activity store failed and the request was
	// allowed through without an idle check.
	Degraded bool
}

// Expired reports whether the session must be terminated.
func (c Check) Expired() bool {
	return c.Result != ResultOK
}

// ActivityKey is the store key holding the last activity of a user.
func ActivityKey(userID uuid.UUID) string {
	return "session:activity:" + userID.String()
}

// Engine enforces idle and absolute session timeouts against an activity
// store. It fails open: store errors never terminate a session.
type Engine struct {
	policy  Policy
	store   store.ActivityStore
	now     func() time.Time
	metrics *telemetry.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used by the middleware and hooks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a session policy engine.
func NewEngine(activityStore store.ActivityStore, policy Policy, opts ...Option) *Engine {
	policy.ApplyDefaults()

	e := &Engine{
		policy:  policy,
		store:   activityStore,
		now:     time.Now,
		metrics: telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// CheckTimeout evaluates the absolute timeout, then the idle timeout. An
// expired session has its activity record removed; a live one has now
// recorded as its latest activity.
func (e *Engine) CheckTimeout(ctx context.Context, subject Subject, now time.Time) Check {
	logger := zerolog.Ctx(ctx).With().Str("user_id", subject.UserID.String()).Logger()
	key := ActivityKey(subject.UserID)

	limit := e.policy.AbsoluteTimeout
	if subject.RememberMe {
		limit = e.policy.RememberMeTimeout
	}

	absoluteDeadline := subject.IssuedAt.Add(limit)
	if now.After(absoluteDeadline) {
		e.deleteRecord(ctx, logger, key)
		logger.Info().Time("issued_at", subject.IssuedAt).Msg("Session exceeded absolute timeout")
		return Check{Result: ResultAbsoluteExpired}
	}

	check := Check{
		Result:            ResultOK,
		AbsoluteRemaining: absoluteDeadline.Sub(now),
	}
	check.AbsoluteWarning = check.AbsoluteRemaining < e.policy.WarningBefore

	lastActivity, err := e.lastActivity(ctx, key, subject.IssuedAt)
	if err != nil {
		e.storeFailed(ctx, logger, err, "get")
		check.Degraded = true
		check.IdleRemaining = e.policy.IdleTimeout
		return check
	}

	idleDeadline := lastActivity.Add(e.policy.IdleTimeout)
	if now.After(idleDeadline) {
		e.deleteRecord(ctx, logger, key)
		logger.Info().Time("last_activity", lastActivity).Msg("Session exceeded idle timeout")
		return Check{Result: ResultIdleExpired, AbsoluteRemaining: check.AbsoluteRemaining}
	}

	check.IdleRemaining = idleDeadline.Sub(now)
	check.IdleWarning = check.IdleRemaining < e.policy.WarningBefore

	if err := e.setActivity(ctx, key, now); err != nil {
		e.storeFailed(ctx, logger, err, "set")
		check.Degraded = true
	}

	return check
}

// RecordActivity marks the user as active now. Called after login.
func (e *Engine) RecordActivity(ctx context.Context, userID uuid.UUID) error {
	return e.setActivity(ctx, ActivityKey(userID), e.now())
}

// ClearSessionActivity removes the activity record. Called on logout.
func (e *Engine) ClearSessionActivity(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	defer cancel()
	return e.store.Del(ctx, ActivityKey(userID))
}

func (e *Engine) lastActivity(ctx context.Context, key string, fallback time.Time) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	defer cancel()

	millis, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return fallback, nil
	}
	return time.UnixMilli(millis), nil
}

func (e *Engine) setActivity(ctx context.Context, key string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	defer cancel()
	return e.store.Set(ctx, key, at.UnixMilli(), e.policy.RecordTTL)
}

func (e *Engine) deleteRecord(ctx context.Context, logger zerolog.Logger, key string) {
	delCtx, cancel := context.WithTimeout(ctx, e.policy.StoreTimeout)
	defer cancel()
	if err := e.store.Del(delCtx, key); err != nil {
		// the session is still rejected, the record ages out with its TTL
		logger.Warn().Err(err).Str("op", "del").Msg("Failed to delete expired session activity")
		e.countStoreError(ctx, "del")
	}
}

func (e *Engine) storeFailed(ctx context.Context, logger zerolog.Logger, err error, op string) {
	logger.Warn().Err(err).Str("op", op).Msg("Activity store unavailable, allowing request")
	e.countStoreError(ctx, op)
}

func (e *Engine) countStoreError(ctx context.Context, op string) {
	e.metrics.SessionStoreErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
