package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuran-nahadi/Networking-Project/adapt"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ControlAddr)
	assert.Equal(t, 9001, cfg.ClientVideoPort)
	assert.Equal(t, "default", cfg.Ladder)
	assert.Equal(t, "medium", cfg.InitialTier)
	assert.Equal(t, 30, cfg.FrameRate)
	assert.Equal(t, 1400, cfg.MTU)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadClientConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.toml")
	content := `
server_addr = "192.168.1.10:9500"
initial_tier = "high"
dashboard = false
log_level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10:9500", cfg.ServerAddr)
	assert.Equal(t, "high", cfg.InitialTier)
	assert.False(t, cfg.Dashboard)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, ":9001", cfg.VideoBindAddr)
	assert.Equal(t, "default", cfg.Ladder)
}

func TestResolveLadder(t *testing.T) {
	ladder, err := ResolveLadder("default")
	require.NoError(t, err)
	assert.Len(t, ladder, 3)

	ladder, err = ResolveLadder("EXTENDED")
	require.NoError(t, err)
	assert.Len(t, ladder, 5)

	_, err = ResolveLadder("bogus")
	assert.Error(t, err)
}

func TestResolveTier(t *testing.T) {
	ladder, err := ResolveLadder("default")
	require.NoError(t, err)

	tier, err := ResolveTier(ladder, "Medium")
	require.NoError(t, err)
	assert.Equal(t, adapt.TierMedium, tier)

	_, err = ResolveTier(ladder, "4k")
	assert.Error(t, err)
}
