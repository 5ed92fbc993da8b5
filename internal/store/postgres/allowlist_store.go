package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// AllowListStore implements store.AllowListStore using PostgreSQL.
type AllowListStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

var _ store.AllowListStore = (*AllowListStore)(nil)

// NewAllowListStore creates a new PostgreSQL-backed allow list store.
func NewAllowListStore(pool *pgxpool.Pool, queryTimeout time.Duration) *AllowListStore {
	return &AllowListStore{
		pool:         pool,
		queryTimeout: queryTimeout,
	}
}

// AllowedNetworks returns the firm's restriction flag and networks.
func (s *AllowListStore) AllowedNetworks(ctx context.Context, firmID uuid.UUID) (bool, []netip.Prefix, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT ip_restriction_enabled FROM firms WHERE firm_id = $1`, firmID,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, store.ErrFirmNotFound
		}
		return false, nil, fmt.Errorf("failed to load firm restriction: %w", mapPostgresError(err))
	}
	if !enabled {
		return false, nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT network FROM firm_ip_allowlists WHERE firm_id = $1 ORDER BY network`, firmID,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to list allowed networks: %w", mapPostgresError(err))
	}

	networks, err := pgx.CollectRows(rows, pgx.RowTo[netip.Prefix])
	if err != nil {
		return false, nil, fmt.Errorf("failed to scan allowed networks: %w", mapPostgresError(err))
	}

	return true, networks, nil
}

// AddAllowedNetwork inserts a network for a firm. Duplicates are ignored.
func (s *AllowListStore) AddAllowedNetwork(ctx context.Context, entry *models.AllowedNetwork) error {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `
		INSERT INTO firm_ip_allowlists (firm_id, network, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (firm_id, network) DO NOTHING
	`

	if _, err := s.pool.Exec(ctx, query, entry.FirmID, entry.Prefix.Masked(), entry.Description); err != nil {
		return fmt.Errorf("failed to add allowed network: %w", mapPostgresError(err))
	}
	return nil
}
