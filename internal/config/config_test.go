package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.BindAddress)
	assert.Equal(t, 27015, cfg.Orchestrator.PortBase)
	assert.Equal(t, 100, cfg.Orchestrator.PortCount)
	assert.Equal(t, 6*time.Second, cfg.Orchestrator.HeartbeatTimeout)
	assert.True(t, cfg.Discovery.Enabled)
	assert.NotZero(t, cfg.Server.StartTime)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
name = "Prod Backend"
host = "203.0.113.9"

[orchestrator]
min_pool = 3
max_players = 16
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Prod Backend", cfg.Server.Name)
	assert.Equal(t, "203.0.113.9", cfg.Server.Host)
	assert.Equal(t, 3, cfg.Orchestrator.MinPool)
	assert.Equal(t, 16, cfg.Orchestrator.MaxPlayers)

	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.BindAddress)
	assert.Equal(t, 27015, cfg.Orchestrator.PortBase)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
secret = "file-secret"
host = "10.0.0.1"
`), 0o644))

	t.Setenv("BACKEND_SECRET", "env-secret")
	t.Setenv("BACKEND_HOST", "198.51.100.2")
	t.Setenv("MIN_SERVER_POOL", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Server.Secret)
	assert.Equal(t, "198.51.100.2", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Orchestrator.MinPool)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nname="), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
