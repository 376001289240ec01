package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "emisor.db", cfg.Database.Path)
	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, 300, cfg.Coordinator.WaitTimeoutSeconds)
	assert.Equal(t, 30, cfg.Coordinator.CheckIntervalSeconds)
	assert.Equal(t, 600, cfg.Coordinator.JoinWindowSeconds)
	assert.Equal(t, 60, cfg.Issuer.TimeoutSeconds)
	assert.Equal(t, 30, cfg.Issuer.RequestsPerMinute)
	assert.Equal(t, "inbox", cfg.Watcher.InboxDir)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emisor.toml")
	content := `
[database]
path = "/state/coordination.db"

[issuer]
base_url = "https://api.example.test/v1"
timeout_seconds = 15

[coordinator]
wait_timeout_seconds = 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/state/coordination.db", cfg.Database.Path)
	assert.Equal(t, "https://api.example.test/v1", cfg.Issuer.BaseURL)
	assert.Equal(t, 15, cfg.Issuer.TimeoutSeconds)
	assert.Equal(t, 60, cfg.Coordinator.WaitTimeoutSeconds)
	// Unset keys keep defaults
	assert.Equal(t, 30, cfg.Coordinator.CheckIntervalSeconds)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestSensitiveEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("EMISOR_ISSUER_USERNAME", "svc-emisor")
	t.Setenv("EMISOR_ISSUER_PASSWORD", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "svc-emisor", cfg.Issuer.Username)
	assert.Equal(t, "hunter2", cfg.Issuer.Password)
}
