package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadFromViper(Defaults())
	require.NoError(t, err)
	return cfg
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "multiworld", cfg.Server.Name)
	assert.Equal(t, 38281, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.PingInterval)
	assert.Equal(t, 10, cfg.Session.DefaultTTL)
	assert.Equal(t, 24*time.Hour, cfg.Session.IdleTimeout)
	assert.Equal(t, "Spoilers", cfg.Generation.SpoilerDir)
	assert.Equal(t, 4, cfg.Operator.Workers)
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 38281}
	assert.Equal(t, "127.0.0.1:38281", s.Addr())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty name", func(c *Config) { c.Server.Name = "" }, "server.name"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad ping interval", func(c *Config) { c.Server.PingInterval = 0 }, "ping_interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad ttl", func(c *Config) { c.Session.DefaultTTL = 0 }, "default_ttl"},
		{"bad idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }, "idle_timeout"},
		{"empty spoiler dir", func(c *Config) { c.Generation.SpoilerDir = "" }, "spoiler_dir"},
		{"bad workers", func(c *Config) { c.Operator.Workers = 0 }, "operator.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  name: "test-relay"
  port: 40000
session:
  default_ttl: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-relay", cfg.Server.Name)
	assert.Equal(t, 40000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Session.DefaultTTL)
	// Unset values fall back to defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.PingInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
