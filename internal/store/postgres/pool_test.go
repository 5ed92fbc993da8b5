package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolConfig_ApplyDefaults(t *testing.T) {
	cfg := &PoolConfig{ConnString: "postgres://localhost/db"}
	cfg.ApplyDefaults()

	require.Equal(t, int32(20), cfg.MaxConns)
	require.Equal(t, int32(2), cfg.MinConns)
	require.Equal(t, time.Hour, cfg.MaxConnLifetime)
	require.Equal(t, 30*time.Minute, cfg.MaxConnIdleTime)
	require.Equal(t, time.Minute, cfg.HealthCheckPeriod)
	require.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 2*time.Second, cfg.QueryTimeout)
	require.Equal(t, 30*time.Second, cfg.ConnectRetryTimeout)
	require.NoError(t, cfg.Validate())
}

func TestPoolConfig_Validate(t *testing.T) {
	require.Error(t, (&PoolConfig{}).Validate())
	require.Error(t, (&PoolConfig{ConnString: "x", MinConns: 5, MaxConns: 1}).Validate())
}

func TestNewPool_errors(t *testing.T) {
	_, err := NewPool(context.Background(), nil)
	require.Error(t, err)

	_, err = NewPool(context.Background(), &PoolConfig{})
	require.Error(t, err)

	_, err = NewPool(context.Background(), &PoolConfig{ConnString: "::not a conn string::"})
	require.Error(t, err)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := withTimeout(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	require.False(t, ok)

	ctx2, cancel2 := withTimeout(context.Background(), time.Second)
	defer cancel2()
	_, ok = ctx2.Deadline()
	require.True(t, ok)
}
