package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/clinicore/clinicore-authz/internal/testing/guard"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 15*time.Minute, cfg.PermissionCacheTTL)
	require.Equal(t, "reject", cfg.GrantDependencyPolicy)
	require.Equal(t, 5, cfg.BulkGrantThreshold)
	require.Equal(t, []string{"delete-users", "manage-roles", "system-admin"}, cfg.HighRiskPermissions)
	require.Equal(t, 0.7, cfg.MinCacheHitRate)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("GRANT_DEPENDENCY_POLICY", "maybe")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigValidatesUnusualHours(t *testing.T) {
	t.Setenv("ANOMALY_UNUSUAL_HOURS_START", "25")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestModeHonorsGuard(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}
