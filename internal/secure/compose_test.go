package secure

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/firmguard/internal/auth"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected []Stage
	}{
		{
			name:     "defaults",
			cfg:      Config{},
			expected: []Stage{StageAuthenticate, StageFirmFilter},
		},
		{
			name: "webhook ignores everything else",
			cfg: Config{
				WebhookAuth: "stripe",
				Auth:        Bool(true),
				AdminOnly:   true,
				Permission:  "payments:full",
				Model:       "Invoice",
			},
			expected: []Stage{StagePreserveRawBody, StageWebhookSignature},
		},
		{
			name:     "public route ignores permission",
			cfg:      Config{Auth: Bool(false), Permission: "cases:view"},
			expected: []Stage{},
		},
		{
			name:     "firm filter disabled",
			cfg:      Config{FirmFilter: Bool(false)},
			expected: []Stage{StageAuthenticate},
		},
		{
			name:     "owner wins over admin",
			cfg:      Config{OwnerOnly: true, AdminOnly: true},
			expected: []Stage{StageAuthenticate, StageFirmFilter, StageOwnerOnly},
		},
		{
			name:     "admin only",
			cfg:      Config{AdminOnly: true},
			expected: []Stage{StageAuthenticate, StageFirmFilter, StageAdminOnly},
		},
		{
			name: "full stack in fixed order",
			cfg: Config{
				AdminOnly:      true,
				Permission:     auth.Permission{Module: "cases", Level: auth.LevelEdit},
				ResourceAccess: &ResourceAccess{Model: "Case", Param: "caseId"},
			},
			expected: []Stage{StageAuthenticate, StageFirmFilter, StageAdminOnly, StagePermission, StageResourceAccess},
		},
		{
			name:     "model shorthand",
			cfg:      Config{Model: "Client"},
			expected: []Stage{StageAuthenticate, StageFirmFilter, StageResourceAccess},
		},
		{
			name:     "invalid permission still composes a permission stage",
			cfg:      Config{Permission: "cases"},
			expected: []Stage{StageAuthenticate, StageFirmFilter, StagePermission},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Stages(Compose(tt.cfg)))
		})
	}
}

func TestCompose_webhookProvider(t *testing.T) {
	steps := Compose(Config{WebhookAuth: "stripe", Permission: "cases:view"})
	require.Len(t, steps, 2)
	require.Equal(t, "stripe", steps[1].Provider)
}

func TestCompose_shorthandEquivalence(t *testing.T) {
	short := Compose(Config{Permission: "cases:edit", Model: "Case"})
	long := Compose(Config{
		Permission:     auth.Permission{Module: "cases", Level: auth.LevelEdit},
		ResourceAccess: &ResourceAccess{Model: "Case", Param: "id"},
	})

	require.Equal(t, long, short)
	require.Equal(t, &auth.Permission{Module: "cases", Level: auth.LevelEdit}, short[2].Permission)
	require.Equal(t, &ResourceAccess{Model: "Case", Param: "id"}, short[3].Resource)
}

func TestCompose_deterministic(t *testing.T) {
	cfg := Config{OwnerOnly: true, Permission: "invoices:delete", Model: "Invoice"}
	require.Equal(t, Compose(cfg), Compose(cfg))
}

func TestNormalize(t *testing.T) {
	t.Run("explicit resource access wins over model", func(t *testing.T) {
		res, err := Normalize(Config{Model: "Case", ResourceAccess: &ResourceAccess{Model: "Client"}})
		require.NoError(t, err)
		require.Equal(t, &ResourceAccess{Model: "Client", Param: "id"}, res.ResourceAccess)
	})

	t.Run("firm filter off for public routes", func(t *testing.T) {
		res, err := Normalize(Config{Auth: Bool(false)})
		require.NoError(t, err)
		require.False(t, res.Auth)
		require.False(t, res.FirmFilter)
	})

	t.Run("bad permission string", func(t *testing.T) {
		res, err := Normalize(Config{Permission: "cases:superuser"})
		require.Error(t, err)
		require.Nil(t, res.Permission)
		require.True(t, res.Auth)
	})

	t.Run("unsupported permission type", func(t *testing.T) {
		_, err := Normalize(Config{Permission: 42})
		require.Error(t, err)
	})

	t.Run("permission pointer", func(t *testing.T) {
		res, err := Normalize(Config{Permission: &auth.Permission{Module: "team", Level: auth.LevelView}})
		require.NoError(t, err)
		require.Equal(t, "team:view", res.Permission.String())
	})
}

func TestStageString(t *testing.T) {
	require.Equal(t, "preserveRawBody", StagePreserveRawBody.String())
	require.Equal(t, "resourceAccess", StageResourceAccess.String())
	require.Equal(t, "stage(99)", Stage(99).String())
}
