package postgres

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// SecurityEventStore implements store.SecurityEventStore using PostgreSQL.
type SecurityEventStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

var _ store.SecurityEventStore = (*SecurityEventStore)(nil)

// NewSecurityEventStore creates a new PostgreSQL-backed security event store.
func NewSecurityEventStore(pool *pgxpool.Pool, queryTimeout time.Duration) *SecurityEventStore {
	return &SecurityEventStore{
		pool:         pool,
		queryTimeout: queryTimeout,
	}
}

var securityEventColumns = []string{
	"event_id", "kind", "code", "status", "user_id", "client_ip", "method", "path", "score", "created_at",
}

// RecordSecurityEvents bulk loads the batch with COPY.
func (s *SecurityEventStore) RecordSecurityEvents(ctx context.Context, events []models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		if e.EventID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate event id: %w", err)
			}
			e.EventID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}

		// unparseable addresses are stored as NULL
		var clientIP any
		if addr, err := netip.ParseAddr(e.ClientIP); err == nil {
			clientIP = addr
		}

		rows = append(rows, []any{
			e.EventID, e.Kind, e.Code, e.Status, e.UserID, clientIP, e.Method, e.Path, e.Score, e.CreatedAt,
		})
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"security_events"}, securityEventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to record security events: %w", mapPostgresError(err))
	}
	return nil
}
