// Package config loads and validates the filtra TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mailkite/filtra/helpers"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // "stderr", "stdout", "syslog", or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// DatabaseConfig holds the PostgreSQL mail index configuration.
type DatabaseConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Name            string `toml:"name"`
	TLSMode         bool   `toml:"tls"`
	LogQueries      bool   `toml:"log_queries"`
	MaxConns        int    `toml:"max_conns"`
	MinConns        int    `toml:"min_conns"`
	MaxConnLifetime string `toml:"max_conn_lifetime"`
	MaxConnIdleTime string `toml:"max_conn_idle_time"`
	QueryTimeout    string `toml:"query_timeout"`
}

// GetMaxConnLifetime parses the max connection lifetime duration.
func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	if d.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return helpers.ParseDuration(d.MaxConnLifetime)
}

// GetMaxConnIdleTime parses the max connection idle time duration.
func (d *DatabaseConfig) GetMaxConnIdleTime() (time.Duration, error) {
	if d.MaxConnIdleTime == "" {
		return 30 * time.Minute, nil
	}
	return helpers.ParseDuration(d.MaxConnIdleTime)
}

// GetQueryTimeout parses the per-query timeout.
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(d.QueryTimeout)
}

// LocalIndexConfig holds the standalone sqlite mail index configuration,
// used when no PostgreSQL database is configured.
type LocalIndexConfig struct {
	Path string `toml:"path"` // sqlite database file
}

// FiltersConfig locates the filter definitions.
type FiltersConfig struct {
	Path string `toml:"path"` // JSON filter file
}

// EngineConfig tunes the filter run.
type EngineConfig struct {
	QueryTag     string `toml:"query_tag"`      // tag selecting messages to process (default "new")
	Workers      int    `toml:"workers"`        // batch concurrency (default 4)
	KeepQueryTag bool   `toml:"keep_query_tag"` // do not remove the query tag after processing
	MetricsAddr  string `toml:"metrics_addr"`   // optional prometheus listener, e.g. ":9090"
}

// Config holds all configuration for filtra.
type Config struct {
	Logging    LoggingConfig     `toml:"logging"`
	Database   *DatabaseConfig   `toml:"database"`
	LocalIndex *LocalIndexConfig `toml:"local_index"`
	Filters    FiltersConfig     `toml:"filters"`
	Engine     EngineConfig      `toml:"engine"`
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Filters: FiltersConfig{
			Path: "filters.json",
		},
		Engine: EngineConfig{
			QueryTag: "new",
			Workers:  4,
		},
	}
}

// Load reads a TOML configuration file over the defaults. A missing file is
// not an error: the defaults stand and flags may fill in the rest.
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Database != nil && c.LocalIndex != nil {
		return fmt.Errorf("configure either [database] or [local_index], not both")
	}
	if c.Database != nil {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		for _, parse := range []func() (time.Duration, error){
			c.Database.GetMaxConnLifetime,
			c.Database.GetMaxConnIdleTime,
			c.Database.GetQueryTimeout,
		} {
			if _, err := parse(); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
	}
	if c.LocalIndex != nil && c.LocalIndex.Path == "" {
		return fmt.Errorf("local_index path is required")
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine workers must not be negative")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}
