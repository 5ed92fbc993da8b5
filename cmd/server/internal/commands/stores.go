package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/store"
	memorystore "github.com/wolfeidau/firmguard/internal/store/memory"
	postgresstore "github.com/wolfeidau/firmguard/internal/store/postgres"
	redisstore "github.com/wolfeidau/firmguard/internal/store/redis"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeRedis    = "redis"
)

// StoreFlags selects the backends.
type StoreFlags struct {
	StoreType     string `help:"identity store type (memory or postgres)" default:"memory" env:"FIRMGUARD_STORE_TYPE" enum:"memory,postgres"`
	ActivityStore string `help:"session activity store type (memory or redis)" default:"memory" env:"FIRMGUARD_ACTIVITY_STORE" enum:"memory,redis"`
}

type PostgresFlags struct {
	ConnString      string        `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	QueryTimeout    time.Duration `help:"timeout for queries on the request path" default:"2s" env:"FIRMGUARD_POSTGRES_QUERY_TIMEOUT"`
	AutoMigrate     bool          `help:"run database migrations on startup" default:"false" env:"FIRMGUARD_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) validate() error {
	if p.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type RedisFlags struct {
	URL              string        `help:"redis URL or host:port" default:"localhost:6379" env:"FIRMGUARD_REDIS_URL"`
	KeyPrefix        string        `help:"prefix for activity keys" default:"firmguard:" env:"FIRMGUARD_REDIS_KEY_PREFIX"`
	OperationTimeout time.Duration `help:"redis read and write timeout" default:"1s"`
	ConnectTimeout   time.Duration `help:"how long to retry the initial connection" default:"30s"`
}

// storeSet holds the backends the security middleware reads from.
type storeSet struct {
	Users          store.UserStore
	AuthEvents     store.AuthEventStore
	SecurityEvents store.SecurityEventStore
	Activity       store.ActivityStore
	AllowLists     store.AllowListStore
	Ownership      store.OwnershipResolver

	// Records backs the demo case and client handlers. In memory mode it also
	// answers ownership questions.
	Records *recordBook
}

func (c *ServerCmd) openStores(ctx context.Context) (*storeSet, func(), error) {
	log := zerolog.Ctx(ctx)
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	records := newRecordBook()
	stores := &storeSet{Records: records}

	switch c.Stores.StoreType {
	case storePostgres:
		if err := c.Postgres.validate(); err != nil {
			return nil, nil, err
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.Postgres.ConnString,
			MaxConns:        c.Postgres.MaxConns,
			MinConns:        c.Postgres.MinConns,
			MaxConnLifetime: c.Postgres.MaxConnLifetime,
			MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
			QueryTimeout:    c.Postgres.QueryTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		closers = append(closers, pool.Close)

		if c.Postgres.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		stores.Users = postgresstore.NewUserStore(pool, c.Postgres.QueryTimeout)
		stores.AuthEvents = postgresstore.NewAuthEventStore(pool, c.Postgres.QueryTimeout)
		stores.SecurityEvents = postgresstore.NewSecurityEventStore(pool, c.Postgres.QueryTimeout)
		stores.AllowLists = postgresstore.NewAllowListStore(pool, c.Postgres.QueryTimeout)
		stores.Ownership = postgresstore.NewOwnershipResolver(pool, postgresstore.DefaultResourceTables, c.Postgres.QueryTimeout)

		log.Info().Msg("Using PostgreSQL identity stores with shared connection pool")

	default:
		stores.Users = memorystore.NewUserStore()
		stores.AuthEvents = memorystore.NewAuthEventStore()
		stores.SecurityEvents = memorystore.NewSecurityEventStore()
		stores.AllowLists = memorystore.NewAllowListStore()
		stores.Ownership = records.ownership
		log.Info().Msg("Using in-memory identity stores")
	}

	switch c.Stores.ActivityStore {
	case storeRedis:
		client, err := redisstore.Connect(ctx, &redisstore.ClientConfig{
			URL:                 c.Redis.URL,
			OperationTimeout:    c.Redis.OperationTimeout,
			ConnectRetryTimeout: c.Redis.ConnectTimeout,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close redis client")
			}
		})
		stores.Activity = redisstore.NewActivityStore(client, c.Redis.KeyPrefix)
		log.Info().Msg("Using redis session activity store")

	default:
		stores.Activity = memorystore.NewActivityStore()
		log.Info().Msg("Using in-memory session activity store")
	}

	return stores, closeAll, nil
}
