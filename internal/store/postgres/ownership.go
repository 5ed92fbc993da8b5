package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/firmguard/internal/store"
)

// DefaultResourceTables maps resource model names to their tables.
var DefaultResourceTables = map[string]string{
	"Case":     "cases",
	"Client":   "clients",
	"Invoice":  "invoices",
	"Document": "documents",
}

// OwnershipResolver implements store.OwnershipResolver by reading the
// firm_id column of the model's table. Only registered tables are queried.
type OwnershipResolver struct {
	pool         *pgxpool.Pool
	tables       map[string]string
	queryTimeout time.Duration
}

var _ store.OwnershipResolver = (*OwnershipResolver)(nil)

// NewOwnershipResolver creates a resolver for the given model -> table map.
func NewOwnershipResolver(pool *pgxpool.Pool, tables map[string]string, queryTimeout time.Duration) *OwnershipResolver {
	return &OwnershipResolver{
		pool:         pool,
		tables:       tables,
		queryTimeout: queryTimeout,
	}
}

func (r *OwnershipResolver) ResourceFirm(ctx context.Context, model string, resourceID string) (uuid.UUID, error) {
	table, ok := r.tables[model]
	if !ok {
		return uuid.Nil, store.ErrUnknownModel
	}

	id, err := uuid.Parse(resourceID)
	if err != nil {
		return uuid.Nil, store.ErrResourceNotFound
	}

	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT firm_id FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())

	var firmID uuid.UUID
	if err := r.pool.QueryRow(ctx, query, id).Scan(&firmID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, store.ErrResourceNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve %s owner: %w", model, mapPostgresError(err))
	}

	return firmID, nil
}
