package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray fieldsync.yaml is found.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.PullInterval)
	assert.Equal(t, 3*time.Second, cfg.PushDebounce)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 8787, cfg.DashboardPort)
	assert.NotEmpty(t, cfg.DBPath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldsync.yaml")
	yaml := `
backend_url: https://api.example.com
user_id: user-1
pull_interval: 90s
max_retries: 7
dashboard_port: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.BackendURL)
	assert.Equal(t, "user-1", cfg.UserID)
	assert.Equal(t, 90*time.Second, cfg.PullInterval)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 0, cfg.DashboardPort)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FIELDSYNC_BACKEND_URL", "https://env.example.com")
	t.Setenv("FIELDSYNC_TOKEN", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.BackendURL)
	assert.Equal(t, "secret", cfg.Token)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg.BackendURL = "https://api.example.com"
	assert.Error(t, cfg.Validate())

	cfg.Token = "secret"
	assert.Error(t, cfg.Validate())

	cfg.UserID = "user-1"
	assert.NoError(t, cfg.Validate())
}
