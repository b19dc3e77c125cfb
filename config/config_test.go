package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "filters.json", cfg.Filters.Path)
	assert.Equal(t, "new", cfg.Engine.QueryTag)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Nil(t, cfg.Database)
	assert.Nil(t, cfg.LocalIndex)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[logging]
output = "stdout"
format = "json"
level = "debug"

[filters]
path = "/etc/filtra/filters.json"

[engine]
query_tag = "incoming"
workers = 8
keep_query_tag = true

[local_index]
path = "/var/lib/filtra/index.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/etc/filtra/filters.json", cfg.Filters.Path)
	assert.Equal(t, "incoming", cfg.Engine.QueryTag)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.True(t, cfg.Engine.KeepQueryTag)
	require.NotNil(t, cfg.LocalIndex)
	assert.Equal(t, "/var/lib/filtra/index.db", cfg.LocalIndex.Path)
}

func TestLoadDatabaseSection(t *testing.T) {
	path := writeConfig(t, `
[database]
host = "db.example.com"
port = "5432"
user = "filtra"
name = "filtra_mail"
query_timeout = "45s"
max_conn_lifetime = "2h"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Database)

	timeout, err := cfg.Database.GetQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, timeout)

	lifetime, err := cfg.Database.GetMaxConnLifetime()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, lifetime)

	// Unset durations fall back to defaults.
	idle, err := cfg.Database.GetMaxConnIdleTime()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, idle)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "both indexes configured",
			mutate: func(c *Config) {
				c.Database = &DatabaseConfig{Host: "h", Name: "n"}
				c.LocalIndex = &LocalIndexConfig{Path: "p"}
			},
			wantErr: "not both",
		},
		{
			name: "database without host",
			mutate: func(c *Config) {
				c.Database = &DatabaseConfig{Name: "n"}
			},
			wantErr: "host is required",
		},
		{
			name: "database without name",
			mutate: func(c *Config) {
				c.Database = &DatabaseConfig{Host: "h"}
			},
			wantErr: "name is required",
		},
		{
			name: "bad duration",
			mutate: func(c *Config) {
				c.Database = &DatabaseConfig{Host: "h", Name: "n", QueryTimeout: "soon"}
			},
			wantErr: "invalid duration",
		},
		{
			name: "local index without path",
			mutate: func(c *Config) {
				c.LocalIndex = &LocalIndexConfig{}
			},
			wantErr: "path is required",
		},
		{
			name: "negative workers",
			mutate: func(c *Config) {
				c.Engine.Workers = -1
			},
			wantErr: "workers",
		},
		{
			name: "unknown logging format",
			mutate: func(c *Config) {
				c.Logging.Format = "yaml"
			},
			wantErr: "logging format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
