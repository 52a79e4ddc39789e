package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.Mode)
	require.Equal(t, "postgres", cfg.Cache.Backend)
	require.Equal(t, "2m", cfg.Aggregation.CronInterval)
	require.Equal(t, 8, cfg.Aggregation.WorkerCount)
	require.Equal(t, 3, cfg.Aggregation.GraphKeepVersions)
	require.True(t, cfg.Database.AutoMigrate)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulsewire.yaml")
	content := `
server:
  port: 9090
  mode: debug
cache:
  backend: redis
  redis_addr: "redis.internal:6379"
aggregation:
  worker_count: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, "redis.internal:6379", cfg.Cache.RedisAddr)
	require.Equal(t, 4, cfg.Aggregation.WorkerCount)

	// Untouched keys keep their defaults.
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 2000, cfg.Aggregation.MaxRefsPerCycle)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulsewire.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("PULSEWIRE_SERVER__PORT", "7070")
	t.Setenv("PULSEWIRE_AGGREGATION__ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.False(t, cfg.Aggregation.Enabled)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "bad mode", mutate: func(c *Config) { c.Server.Mode = "production" }},
		{name: "empty dsn", mutate: func(c *Config) { c.Database.DSN = "" }},
		{name: "unknown cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Cache.Backend = "redis"
			c.Cache.RedisAddr = ""
		}},
		{name: "zero workers", mutate: func(c *Config) { c.Aggregation.WorkerCount = 0 }},
		{name: "zero refs per cycle", mutate: func(c *Config) { c.Aggregation.MaxRefsPerCycle = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
