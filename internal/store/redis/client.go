package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ClientConfig holds connection settings for the activity store.
type ClientConfig struct {
	// URL is either a redis:// URL or a host:port address.
	URL string

	// DialTimeout bounds establishing a connection. Default: 2s
	DialTimeout time.Duration

	// OperationTimeout bounds reads and writes. Default: 1s
	OperationTimeout time.Duration

	// ConnectRetryTimeout bounds the startup retry loop. Default: 30s
	ConnectRetryTimeout time.Duration
}

// Validate checks that the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("redis url is required")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = time.Second
	}
	if c.ConnectRetryTimeout == 0 {
		c.ConnectRetryTimeout = 30 * time.Second
	}
}

func (c *ClientConfig) options() (*goredis.Options, error) {
	var opt *goredis.Options
	if strings.HasPrefix(c.URL, "redis://") || strings.HasPrefix(c.URL, "rediss://") {
		parsed, err := goredis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &goredis.Options{Addr: c.URL}
	}

	opt.DialTimeout = c.DialTimeout
	opt.ReadTimeout = c.OperationTimeout
	opt.WriteTimeout = c.OperationTimeout
	return opt, nil
}

// Connect creates a client and pings it, retrying with exponential backoff
// until ConnectRetryTimeout elapses.
func Connect(ctx context.Context, cfg *ClientConfig) (*goredis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	opt, err := cfg.options()
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opt)

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("addr", opt.Addr).Msg("Redis ping failed")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.ConnectRetryTimeout),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", opt.Addr).Int("attempts", attempt).Msg("Connected to redis")
	return client, nil
}
