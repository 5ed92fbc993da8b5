package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// AuthEventStore implements store.AuthEventStore using PostgreSQL.
type AuthEventStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

var _ store.AuthEventStore = (*AuthEventStore)(nil)

// NewAuthEventStore creates a new PostgreSQL-backed auth event store.
func NewAuthEventStore(pool *pgxpool.Pool, queryTimeout time.Duration) *AuthEventStore {
	return &AuthEventStore{
		pool:         pool,
		queryTimeout: queryTimeout,
	}
}

// RecordAuthEvent inserts an auth event, generating a UUIDv7 if none is set.
func (s *AuthEventStore) RecordAuthEvent(ctx context.Context, event *models.AuthEvent) error {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	if event.EventID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate event id: %w", err)
		}
		event.EventID = id
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Convert empty IP address to nil for proper INET handling
	var ipAddress any
	if event.IPAddress != "" {
		ipAddress = event.IPAddress
	}

	query := `
		INSERT INTO auth_events (
			event_id, user_id, method, succeeded, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5::inet, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		event.EventID,
		event.UserID,
		event.Method,
		event.Succeeded,
		ipAddress,
		event.UserAgent,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record auth event: %w", mapPostgresError(err))
	}

	return nil
}

// LastAuthTimestamp returns the most recent successful authentication time.
func (s *AuthEventStore) LastAuthTimestamp(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `
		SELECT created_at
		FROM auth_events
		WHERE user_id = $1 AND succeeded
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ts time.Time
	err := s.pool.QueryRow(ctx, query, userID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last auth timestamp: %w", mapPostgresError(err))
	}

	return ts, true, nil
}
