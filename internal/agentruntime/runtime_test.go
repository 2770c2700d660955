package agentruntime

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveConfig_ApplyRespectsVersionOrdering(t *testing.T) {
	cfg := &LiveConfig{}

	applied := cfg.Apply(map[string]interface{}{
		"zone":           "dmz",
		"config_version": float64(3),
	})
	assert.True(t, applied)
	assert.Equal(t, "dmz", cfg.CurrentZone())
	assert.Equal(t, 3, cfg.CurrentVersion())
	assert.Equal(t, 1, cfg.AppliedCount())

	// Stale snapshot: ignored
	applied = cfg.Apply(map[string]interface{}{
		"zone":           "lan",
		"config_version": float64(2),
	})
	assert.False(t, applied)
	assert.Equal(t, "dmz", cfg.CurrentZone())

	// Newer snapshot: applied, local counter increments
	applied = cfg.Apply(map[string]interface{}{
		"zone":           "lan",
		"config_version": float64(4),
	})
	assert.True(t, applied)
	assert.Equal(t, "lan", cfg.CurrentZone())
	assert.Equal(t, 2, cfg.AppliedCount())
}

func TestLiveConfig_ApplyStrikerFields(t *testing.T) {
	cfg := &LiveConfig{}

	cfg.Apply(map[string]interface{}{
		"config_version":         float64(1),
		"allowed_actions":        []interface{}{"network_block"},
		"action_defaults":        map[string]interface{}{"network_block": map[string]interface{}{"duration": float64(3600)}},
		"max_concurrent_actions": float64(2),
	})

	allowed, defaults, maxConcurrent := cfg.Snapshot()
	assert.Equal(t, []string{"network_block"}, allowed)
	assert.Equal(t, float64(3600), defaults["network_block"]["duration"])
	assert.Equal(t, 2, maxConcurrent)
}

func TestLiveConfig_NullAllowlistClearsRestriction(t *testing.T) {
	cfg := &LiveConfig{AllowedActions: []string{"network_block"}}

	cfg.Apply(map[string]interface{}{"config_version": float64(5)})

	allowed, _, _ := cfg.Snapshot()
	assert.Nil(t, allowed, "an absent allowlist means all capabilities allowed")
}

func TestLoadIdentity_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadIdentity(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, id.APIKey)
	assert.Empty(t, id.AgentID)

	require.NoError(t, id.SetAgentID("agent-123"))
	require.NoError(t, id.SaveCertificates("CERT", "KEY", "CA"))

	// A second load sees the same identity
	again, err := LoadIdentity(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, id.APIKey, again.APIKey)
	assert.Equal(t, "agent-123", again.AgentID)

	cert, key, ca := again.CertPaths()
	assert.Equal(t, filepath.Join(dir, "client.crt"), cert)
	assert.Equal(t, filepath.Join(dir, "client.key"), key)
	assert.Equal(t, filepath.Join(dir, "ca.crt"), ca)
}

func TestIdentity_CertPathsEmptyBeforeProvisioning(t *testing.T) {
	id, err := LoadIdentity(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	cert, key, ca := id.CertPaths()
	assert.Empty(t, cert)
	assert.Empty(t, key)
	assert.Empty(t, ca)
}
