package memory

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/store"
)

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	st := NewUserStore()
	firmID := uuid.New()

	user := &models.User{
		UserID:          uuid.New(),
		FirmID:          &firmID,
		Role:            models.RoleLawyer,
		Email:           "lawyer@example.com",
		IsEmailVerified: true,
	}

	t.Run("create and find", func(t *testing.T) {
		require.NoError(t, st.CreateUser(ctx, user))

		found, err := st.FindUser(ctx, user.UserID)
		require.NoError(t, err)
		require.Equal(t, user.Email, found.Email)
		require.True(t, found.HasFirm())
	})

	t.Run("find by email ignores case", func(t *testing.T) {
		found, err := st.FindUserByEmail(ctx, "Lawyer@Example.com")
		require.NoError(t, err)
		require.Equal(t, user.UserID, found.UserID)

		_, err = st.FindUserByEmail(ctx, "nobody@example.com")
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("duplicate", func(t *testing.T) {
		require.ErrorIs(t, st.CreateUser(ctx, user), store.ErrUserExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := st.FindUser(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("deleted users are not found", func(t *testing.T) {
		deletedAt := time.Now()
		deleted := &models.User{UserID: uuid.New(), DeletedAt: &deletedAt}
		require.NoError(t, st.CreateUser(ctx, deleted))

		_, err := st.FindUser(ctx, deleted.UserID)
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("returned copy is isolated", func(t *testing.T) {
		found, err := st.FindUser(ctx, user.UserID)
		require.NoError(t, err)
		found.Email = "changed@example.com"

		again, err := st.FindUser(ctx, user.UserID)
		require.NoError(t, err)
		require.Equal(t, "lawyer@example.com", again.Email)
	})
}

func TestAuthEventStore(t *testing.T) {
	ctx := context.Background()
	st := NewAuthEventStore()
	userID := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := st.LastAuthTimestamp(ctx, userID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.RecordAuthEvent(ctx, &models.AuthEvent{UserID: userID, Succeeded: true, CreatedAt: base}))
	require.NoError(t, st.RecordAuthEvent(ctx, &models.AuthEvent{UserID: userID, Succeeded: false, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, st.RecordAuthEvent(ctx, &models.AuthEvent{UserID: userID, Succeeded: true, CreatedAt: base.Add(-time.Hour)}))

	ts, ok, err := st.LastAuthTimestamp(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, base, ts)
}

func TestSecurityEventStore(t *testing.T) {
	ctx := context.Background()
	st := NewSecurityEventStore()

	require.NoError(t, st.RecordSecurityEvents(ctx, []models.SecurityEvent{
		{Kind: "forbidden", Path: "/cases/1"},
		{Kind: "ip_blocked", Path: "/cases/2"},
	}))
	require.NoError(t, st.RecordSecurityEvents(ctx, []models.SecurityEvent{{Kind: "auth_failure", Path: "/users/me"}}))

	events := st.Events()
	require.Len(t, events, 3)
	require.Equal(t, "forbidden", events[0].Kind)
	require.Equal(t, "auth_failure", events[2].Kind)

	events[0].Kind = "changed"
	require.Equal(t, "forbidden", st.Events()[0].Kind)
}

func TestActivityStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewActivityStore().WithClock(func() time.Time { return now })

	_, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.Set(ctx, "k", 42, time.Minute))
	v, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), v)

	now = now.Add(2 * time.Minute)
	_, ok, err = st.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "entry should expire after its ttl")

	require.NoError(t, st.Set(ctx, "k", 7, 0))
	require.NoError(t, st.Del(ctx, "k"))
	_, ok, err = st.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllowListStore(t *testing.T) {
	ctx := context.Background()
	st := NewAllowListStore()
	firmID := uuid.New()

	enabled, nets, err := st.AllowedNetworks(ctx, firmID)
	require.NoError(t, err)
	require.False(t, enabled)
	require.Empty(t, nets)

	st.SetRestriction(firmID, true)
	require.NoError(t, st.AddAllowedNetwork(ctx, &models.AllowedNetwork{
		FirmID: firmID,
		Prefix: netip.MustParsePrefix("10.1.2.3/24"),
	}))

	enabled, nets, err = st.AllowedNetworks(ctx, firmID)
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.1.2.0/24")}, nets)
}

func TestOwnershipResolver(t *testing.T) {
	ctx := context.Background()
	r := NewOwnershipResolver("Case")
	firmID := uuid.New()
	r.Put("Case", "c-1", firmID)

	got, err := r.ResourceFirm(ctx, "Case", "c-1")
	require.NoError(t, err)
	require.Equal(t, firmID, got)

	_, err = r.ResourceFirm(ctx, "Case", "missing")
	require.ErrorIs(t, err, store.ErrResourceNotFound)

	_, err = r.ResourceFirm(ctx, "Invoice", "c-1")
	require.ErrorIs(t, err, store.ErrUnknownModel)
}
