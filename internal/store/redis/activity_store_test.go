package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *ActivityStore) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), &ClientConfig{URL: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewActivityStore(client, "session:activity:")
}

func TestActivityStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	mr, st := setupMiniredis(t)

	_, ok, err := st.Get(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.Set(ctx, "user-1", 1700000000000, 24*time.Hour))

	v, ok, err := st.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1700000000000), v)

	// key is namespaced and carries the ttl
	require.True(t, mr.Exists("session:activity:user-1"))
	require.Equal(t, 24*time.Hour, mr.TTL("session:activity:user-1"))

	require.NoError(t, st.Del(ctx, "user-1"))
	_, ok, err = st.Get(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActivityStore_expiry(t *testing.T) {
	ctx := context.Background()
	mr, st := setupMiniredis(t)

	require.NoError(t, st.Set(ctx, "user-2", 1, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := st.Get(ctx, "user-2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActivityStore_corruptValue(t *testing.T) {
	ctx := context.Background()
	mr, st := setupMiniredis(t)

	require.NoError(t, mr.Set("session:activity:user-3", "not-a-number"))

	_, _, err := st.Get(ctx, "user-3")
	require.Error(t, err)
}

func TestActivityStore_unavailable(t *testing.T) {
	ctx := context.Background()
	mr, st := setupMiniredis(t)
	mr.Close()

	_, _, err := st.Get(ctx, "user-4")
	require.Error(t, err)
	require.Error(t, st.Set(ctx, "user-4", 1, time.Minute))
}

func TestConnect_validation(t *testing.T) {
	_, err := Connect(context.Background(), nil)
	require.Error(t, err)

	_, err = Connect(context.Background(), &ClientConfig{})
	require.Error(t, err)

	_, err = Connect(context.Background(), &ClientConfig{URL: "redis://:bad url"})
	require.Error(t, err)
}

func TestConnect_givesUp(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), &ClientConfig{
		URL:                 addr,
		DialTimeout:         50 * time.Millisecond,
		ConnectRetryTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
}
