// Package config provides Viper-based configuration loading for the
// multiworld relay server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the TCP listener and liveness settings.
type ServerConfig struct {
	// Name is the server display name sent in the connect handshake.
	Name string `mapstructure:"name"`
	// Host is the bind address for the TCP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// WriteTimeout is the per-write deadline on client connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the liveness sweep interval. A client silent for more
	// than 3.5x this interval is disconnected.
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SessionConfig holds reliable-delivery and session retirement settings.
type SessionConfig struct {
	// ResendInterval is the sweep interval for unacknowledged messages.
	ResendInterval time.Duration `mapstructure:"resend_interval"`
	// DefaultTTL is the delivery-attempt budget for a confirmable message.
	DefaultTTL int `mapstructure:"default_ttl"`
	// IdleTimeout retires a session after all players have been gone this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// GenerationConfig holds generation output settings.
type GenerationConfig struct {
	// SpoilerDir is the directory spoiler logs are written to.
	SpoilerDir string `mapstructure:"spoiler_dir"`
}

// OperatorConfig holds operator console settings.
type OperatorConfig struct {
	// Workers is the size of the pool that serves operator-initiated sends.
	Workers int `mapstructure:"workers"`
	// QueueSize bounds the number of pending operator tasks.
	QueueSize int `mapstructure:"queue_size"`
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Session    SessionConfig    `mapstructure:"session"`
	Generation GenerationConfig `mapstructure:"generation"`
	Operator   OperatorConfig   `mapstructure:"operator"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGeneration(c.Generation); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateOperator(c.Operator); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if s.PingInterval <= 0 {
		errs = append(errs, "server.ping_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.ResendInterval <= 0 {
		errs = append(errs, "session.resend_interval must be positive")
	}
	if s.DefaultTTL < 1 {
		errs = append(errs, fmt.Sprintf("session.default_ttl must be >= 1, got %d", s.DefaultTTL))
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "session.idle_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGeneration(g GenerationConfig) error {
	if g.SpoilerDir == "" {
		return fmt.Errorf("generation.spoiler_dir must not be empty")
	}
	return nil
}

func validateOperator(o OperatorConfig) error {
	var errs []string
	if o.Workers < 1 {
		errs = append(errs, fmt.Sprintf("operator.workers must be >= 1, got %d", o.Workers))
	}
	if o.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("operator.queue_size must be >= 1, got %d", o.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with MW_ prefix
	v.SetEnvPrefix("MW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance pre-populated with default values.
// Tests use it to build valid configurations without a file on disk.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "multiworld")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 38281)
	v.SetDefault("server.write_timeout", "2s")
	v.SetDefault("server.ping_interval", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("session.resend_interval", "10s")
	v.SetDefault("session.default_ttl", 10)
	v.SetDefault("session.idle_timeout", "24h")

	v.SetDefault("generation.spoiler_dir", "Spoilers")

	v.SetDefault("operator.workers", 4)
	v.SetDefault("operator.queue_size", 64)
}
