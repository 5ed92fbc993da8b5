package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

var _ store.UserStore = (*UserStore)(nil)

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool, queryTimeout time.Duration) *UserStore {
	return &UserStore{
		pool:         pool,
		queryTimeout: queryTimeout,
	}
}

// CreateUser inserts a user row.
func (s *UserStore) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `
		INSERT INTO users (
			user_id, firm_id, role, email, name, is_email_verified,
			password_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		user.UserID,
		user.FirmID,
		string(user.Role),
		user.Email,
		user.Name,
		user.IsEmailVerified,
		user.PasswordHash,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("user_id", user.UserID.String()).
		Str("role", string(user.Role)).
		Msg("Created user")

	return nil
}

const selectUser = `
	SELECT
		user_id, firm_id, role, email, name, is_email_verified,
		password_hash, created_at, updated_at, deleted_at
	FROM users
`

// FindUser retrieves a non-deleted user by ID.
func (s *UserStore) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.findUser(ctx, selectUser+"WHERE user_id = $1 AND deleted_at IS NULL", userID)
}

// FindUserByEmail retrieves a non-deleted user by email, ignoring case.
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, selectUser+"WHERE lower(email) = lower($1) AND deleted_at IS NULL", email)
}

func (s *UserStore) findUser(ctx context.Context, query string, arg any) (*models.User, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		user models.User
		role string
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.UserID,
		&user.FirmID,
		&role,
		&user.Email,
		&user.Name,
		&user.IsEmailVerified,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", mapPostgresError(err))
	}
	user.Role = models.Role(role)

	return &user, nil
}
