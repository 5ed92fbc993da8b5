//go:build integration

package postgres

import (
	"context"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{ConnString: connString})
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, pool))
	// second run is a no-op
	require.NoError(t, RunMigrations(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func createFirm(t *testing.T, ctx context.Context, pool *pgxpool.Pool, restricted bool) uuid.UUID {
	t.Helper()
	firmID := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO firms (firm_id, name, owner_user_id, ip_restriction_enabled) VALUES ($1, $2, $3, $4)`,
		firmID, "Test Firm", uuid.New(), restricted,
	)
	require.NoError(t, err)
	return firmID
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	users := NewUserStore(pool, 2*time.Second)
	events := NewAuthEventStore(pool, 2*time.Second)
	allowlists := NewAllowListStore(pool, 2*time.Second)
	ownership := NewOwnershipResolver(pool, DefaultResourceTables, 2*time.Second)
	securityEvents := NewSecurityEventStore(pool, 2*time.Second)

	firmID := createFirm(t, ctx, pool, true)
	user := &models.User{
		UserID:          uuid.New(),
		FirmID:          &firmID,
		Role:            models.RoleLawyer,
		Email:           "lawyer@example.com",
		IsEmailVerified: true,
		PasswordHash:    "$2a$04$examplehashexamplehashexamplehashexamplehashexampleha",
	}

	t.Run("users", func(t *testing.T) {
		require.NoError(t, users.CreateUser(ctx, user))
		require.ErrorIs(t, users.CreateUser(ctx, user), store.ErrUserExists)

		found, err := users.FindUser(ctx, user.UserID)
		require.NoError(t, err)
		require.Equal(t, models.RoleLawyer, found.Role)
		require.Equal(t, firmID, *found.FirmID)
		require.True(t, found.IsEmailVerified)
		require.Equal(t, user.PasswordHash, found.PasswordHash)

		_, err = users.FindUser(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrUserNotFound)

		byEmail, err := users.FindUserByEmail(ctx, "LAWYER@example.com")
		require.NoError(t, err)
		require.Equal(t, user.UserID, byEmail.UserID)
	})

	t.Run("auth events", func(t *testing.T) {
		_, ok, err := events.LastAuthTimestamp(ctx, user.UserID)
		require.NoError(t, err)
		require.False(t, ok)

		at := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Microsecond)
		require.NoError(t, events.RecordAuthEvent(ctx, &models.AuthEvent{
			UserID: user.UserID, Method: models.AuthMethodPassword, Succeeded: true,
			IPAddress: "192.0.2.1", CreatedAt: at,
		}))
		require.NoError(t, events.RecordAuthEvent(ctx, &models.AuthEvent{
			UserID: user.UserID, Method: models.AuthMethodPassword, Succeeded: false,
			CreatedAt: time.Now(),
		}))

		ts, ok, err := events.LastAuthTimestamp(ctx, user.UserID)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, at.Equal(ts))

		err = events.RecordAuthEvent(ctx, &models.AuthEvent{UserID: uuid.New(), Method: "password"})
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("allow lists", func(t *testing.T) {
		require.NoError(t, allowlists.AddAllowedNetwork(ctx, &models.AllowedNetwork{
			FirmID: firmID, Prefix: netip.MustParsePrefix("203.0.113.0/24"),
		}))
		require.NoError(t, allowlists.AddAllowedNetwork(ctx, &models.AllowedNetwork{
			FirmID: firmID, Prefix: netip.MustParsePrefix("203.0.113.9/24"),
		}))

		enabled, nets, err := allowlists.AllowedNetworks(ctx, firmID)
		require.NoError(t, err)
		require.True(t, enabled)
		require.Equal(t, []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")}, nets)

		_, _, err = allowlists.AllowedNetworks(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrFirmNotFound)
	})

	t.Run("ownership", func(t *testing.T) {
		caseID := uuid.New()
		_, err := pool.Exec(ctx, `INSERT INTO cases (id, firm_id, title) VALUES ($1, $2, $3)`, caseID, firmID, "Matter")
		require.NoError(t, err)

		got, err := ownership.ResourceFirm(ctx, "Case", caseID.String())
		require.NoError(t, err)
		require.Equal(t, firmID, got)

		_, err = ownership.ResourceFirm(ctx, "Case", uuid.NewString())
		require.ErrorIs(t, err, store.ErrResourceNotFound)

		_, err = ownership.ResourceFirm(ctx, "Case", "not-a-uuid")
		require.ErrorIs(t, err, store.ErrResourceNotFound)

		_, err = ownership.ResourceFirm(ctx, "Spaceship", caseID.String())
		require.ErrorIs(t, err, store.ErrUnknownModel)
	})

	t.Run("security events", func(t *testing.T) {
		require.NoError(t, securityEvents.RecordSecurityEvents(ctx, nil))
		require.NoError(t, securityEvents.RecordSecurityEvents(ctx, []models.SecurityEvent{
			{Kind: "forbidden", Code: "PERMISSION_DENIED", Status: 403, UserID: &user.UserID, ClientIP: "192.0.2.7", Method: "GET", Path: "/api/v2/cases"},
			{Kind: "auth_failure", Code: "AUTH_REQUIRED", Status: 401, ClientIP: "not-an-ip", Method: "GET", Path: "/api/v2/cases", Score: 1.5},
		}))

		var count int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM security_events WHERE client_ip IS NULL`).Scan(&count))
		require.Equal(t, 1, count)

		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM security_events WHERE user_id = $1`, user.UserID).Scan(&count))
		require.Equal(t, 1, count)
	})
}
