package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BURSAR_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "kes", cfg.Engine.Currency)
	assert.Equal(t, 30, cfg.Engine.DueDays)
	assert.Equal(t, 30*time.Minute, cfg.Memory.TTL)
	assert.False(t, cfg.Understanding.Enabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bursar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  read_timeout: 5s
store:
  driver: sqlite
  dsn: /tmp/bursar.db
memory:
  ttl: 10m
engine:
  currency: ugx
reminder:
  enabled: true
  schools: [sch_1]
`), 0o600))

	t.Setenv("BURSAR_CONFIG", path)
	t.Setenv("BURSAR_ADDR", ":7000")
	t.Setenv("BURSAR_DUE_DAYS", "14")
	t.Setenv("BURSAR_REMINDER_SCHOOLS", "sch_1, sch_2")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Memory.TTL)
	assert.Equal(t, "ugx", cfg.Engine.Currency)
	assert.Equal(t, 14, cfg.Engine.DueDays)
	assert.Equal(t, []string{"sch_1", "sch_2"}, cfg.Reminder.Schools)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BURSAR_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("BURSAR_CONFIG", "")
	t.Cleanup(func() { os.Unsetenv("BURSAR_LOG_LEVEL") })

	cfg, err := config.Load()
	require.NoError(t, err)
	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad driver", func(c *config.Config) { c.Store.Driver = "oracle" }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = "postgres" }},
		{"redis memory without url", func(c *config.Config) { c.Memory.Backend = "redis" }},
		{"redis notify without url", func(c *config.Config) { c.Notify.Backend = "redis" }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"reminders without schools", func(c *config.Config) { c.Reminder.Enabled = true }},
		{"zero due days", func(c *config.Config) { c.Engine.DueDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, config.Default().Validate())
}
