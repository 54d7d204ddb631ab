package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClient_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultClient(), cfg)
	assert.Equal(t, 60*time.Second, cfg.InactivityTimeout)
	assert.Equal(t, 1024, cfg.OverflowLimit)
	assert.Equal(t, 10, cfg.Login.MaxBaseAppAttempts)
}

func TestLoadClient_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	data := `
server: game.example.com:20013
username: alice
inactivity_timeout: 5s
overflow_limit: 64
login:
  retry_period: 250ms
  max_attempts: 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "game.example.com:20013", cfg.Server)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, 5*time.Second, cfg.InactivityTimeout)
	assert.Equal(t, 64, cfg.OverflowLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Login.RetryPeriod)
	assert.Equal(t, 3, cfg.Login.MaxAttempts)
	// не указанные поля остаются по умолчанию
	assert.Equal(t, 8*time.Second, cfg.Login.Timeout)
	assert.True(t, cfg.Encrypt)
}

func TestLoadClient_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := LoadClient(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadDevServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.yaml")
	data := `
login_bind: 127.0.0.1:0
logins_allowed: false
pending_login_ttl: 2s
npc_count: 0
database:
  host: db
  port: 5433
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadDevServer(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.LoginBind)
	assert.False(t, cfg.LoginsAllowed)
	assert.Equal(t, 2*time.Second, cfg.PendingLoginTTL)
	assert.Zero(t, cfg.NPCCount)
	assert.Equal(t, "postgres://worldlink:worldlink@db:5433/worldlink?sslmode=disable", cfg.Database.DSN())
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, "config/client.yaml", Path("config/client.yaml"))

	t.Setenv(EnvPath, "/etc/worldlink.yaml")
	assert.Equal(t, "/etc/worldlink.yaml", Path("config/client.yaml"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}
