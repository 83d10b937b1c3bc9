package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.HandlerTimeout)
	assert.True(t, cfg.Channels.Console)
	assert.Equal(t, "*/5 * * * *", cfg.SweepSchedule)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umino.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
dispatch:
  workers: 2
  handler_timeout: 5s
channels:
  console: false
  telegram:
    token: tg-token
api:
  enabled: true
  addr: "0.0.0.0:9000"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.HandlerTimeout)
	assert.False(t, cfg.Channels.Console)
	assert.Equal(t, "tg-token", cfg.Channels.Telegram.Token)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Addr)

	// Untouched keys keep their defaults.
	assert.Equal(t, "umino.db", cfg.DataPath)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umino.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	t.Setenv("UMINO_LOG_LEVEL", "warn")
	t.Setenv("UMINO_DISCORD_TOKEN", "d-token")
	t.Setenv("UMINO_ADMINS", "root,ops")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "d-token", cfg.Channels.Discord.Token)
	assert.Equal(t, []string{"root", "ops"}, cfg.Admins)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umino.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [broken\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
