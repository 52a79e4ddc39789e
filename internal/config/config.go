package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for Pulsewire.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Cache       CacheConfig       `koanf:"cache"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Tuning      TuningConfig      `koanf:"tuning"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// CacheConfig selects the artifact store backend and the compute budget for
// cache misses.
type CacheConfig struct {
	Backend        string `koanf:"backend"` // "postgres" or "redis"
	RedisAddr      string `koanf:"redis_addr"`
	ComputeTimeout string `koanf:"compute_timeout"` // parsed as time.Duration in main
}

// AggregationConfig holds settings for the background recompute cycle.
type AggregationConfig struct {
	Enabled            bool   `koanf:"enabled"`
	CronInterval       string `koanf:"cron_interval"`       // parsed as time.Duration in main
	StalenessThreshold string `koanf:"staleness_threshold"` // parsed as time.Duration in main
	WorkerCount        int    `koanf:"worker_count"`
	MaxRefsPerCycle    int    `koanf:"max_refs_per_cycle"`
	GraphLookback      string `koanf:"graph_lookback"` // parsed as time.Duration in main
	GraphMaxNodes      int    `koanf:"graph_max_nodes"`
	GraphMaxEdges      int    `koanf:"graph_max_edges"`
	GraphKeepVersions  int    `koanf:"graph_keep_versions"`
}

// TuningConfig points at the directory holding the trend and source-rank
// tuning files.
type TuningConfig struct {
	Dir string `koanf:"dir"`
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.host":                     "0.0.0.0",
		"server.max_body_size_mb":         1,
		"server.mode":                     "release",
		"database.dsn":                    "postgres://localhost:5432/pulsewire?sslmode=disable",
		"database.max_open_conns":         25,
		"database.max_idle_conns":         25,
		"database.auto_migrate":           true,
		"cache.backend":                   "postgres",
		"cache.redis_addr":                "localhost:6379",
		"cache.compute_timeout":           "5s",
		"aggregation.enabled":             true,
		"aggregation.cron_interval":       "2m",
		"aggregation.staleness_threshold": "15m",
		"aggregation.worker_count":        8,
		"aggregation.max_refs_per_cycle":  2000,
		"aggregation.graph_lookback":      "168h",
		"aggregation.graph_max_nodes":     200,
		"aggregation.graph_max_edges":     1000,
		"aggregation.graph_keep_versions": 3,
		"tuning.dir":                      "./config/tuning",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// PULSEWIRE_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("PULSEWIRE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PULSEWIRE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the wiring in main cannot act on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (want debug or release)", c.Server.Mode)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Cache.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("invalid cache.backend %q (want postgres or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required for the redis backend")
	}
	if c.Aggregation.WorkerCount <= 0 {
		return fmt.Errorf("aggregation.worker_count must be positive")
	}
	if c.Aggregation.MaxRefsPerCycle <= 0 {
		return fmt.Errorf("aggregation.max_refs_per_cycle must be positive")
	}
	return nil
}
