// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RateWindow RateWindowConfig `yaml:"rate_window"`
	Provider   ProviderConfig   `yaml:"provider"`
	Auth       AuthConfig       `yaml:"auth"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Listings   []ListingConfig  `yaml:"listings"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// RateWindowConfig configures the rolling rate window backend.
// "memory" is per-process; "redis" shares the window across instances.
type RateWindowConfig struct {
	Backend   string        `yaml:"backend"` // "memory" or "redis"
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
}

// ProviderConfig configures how admitted calls are dispatched.
// "static" serves canned envelopes (dev mode); "http" forwards to the
// configured base URL.
type ProviderConfig struct {
	Mode    string        `yaml:"mode"` // "static" or "http"
	BaseURL string        `yaml:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	KeyMarker string `yaml:"key_marker"` // leading marker of issued keys
}

// RecorderConfig configures the usage ledger recorder.
type RecorderConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// ListingConfig seeds one catalog entry at startup.
type ListingConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	Status     string `yaml:"status"`
	RateCap    int    `yaml:"rate_cap"`
	CreditCost int64  `yaml:"credit_cost"`
	Method     string `yaml:"method"`
	Path       string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables,
// for container deployments without a config file.
//
// Environment variables:
//
//	METERGATE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	METERGATE_SERVER_PORT        - Server port (default: 8080)
//	METERGATE_DATABASE_DRIVER    - sqlite, postgres or memory (default: sqlite)
//	METERGATE_DATABASE_DSN       - Database DSN (default: metergate.db)
//	METERGATE_RATEWINDOW_BACKEND - memory or redis (default: memory)
//	METERGATE_REDIS_ADDR         - Redis address for the rate window
//	METERGATE_PROVIDER_MODE      - static or http (default: static)
//	METERGATE_PROVIDER_URL       - Provider base URL (required for http mode)
//	METERGATE_AUTH_KEY_MARKER    - API key marker (default: mk_)
//	METERGATE_LOG_LEVEL          - debug, info, warn, error (default: info)
//	METERGATE_LOG_FORMAT         - json or console (default: json)
//	METERGATE_METRICS_ENABLED    - Enable /metrics (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback tries the file first, then environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies METERGATE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METERGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("METERGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("METERGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("METERGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("METERGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("METERGATE_RATEWINDOW_BACKEND"); v != "" {
		cfg.RateWindow.Backend = v
	}
	if v := os.Getenv("METERGATE_REDIS_ADDR"); v != "" {
		cfg.RateWindow.RedisAddr = v
	}

	if v := os.Getenv("METERGATE_PROVIDER_MODE"); v != "" {
		cfg.Provider.Mode = v
	}
	if v := os.Getenv("METERGATE_PROVIDER_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("METERGATE_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.Timeout = d
		}
	}

	if v := os.Getenv("METERGATE_AUTH_KEY_MARKER"); v != "" {
		cfg.Auth.KeyMarker = v
	}

	if v := os.Getenv("METERGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("METERGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "metergate.db"
	}

	if cfg.RateWindow.Backend == "" {
		cfg.RateWindow.Backend = "memory"
	}
	if cfg.RateWindow.TTL == 0 {
		cfg.RateWindow.TTL = 2 * time.Hour
	}

	if cfg.Provider.Mode == "" {
		cfg.Provider.Mode = "static"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}

	if cfg.Auth.KeyMarker == "" {
		cfg.Auth.KeyMarker = "mk_"
	}

	if cfg.Recorder.MaxAttempts == 0 {
		cfg.Recorder.MaxAttempts = 3
	}
	if cfg.Recorder.BaseBackoff == 0 {
		cfg.Recorder.BaseBackoff = 50 * time.Millisecond
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}

	validBackends := map[string]bool{"memory": true, "redis": true}
	if !validBackends[cfg.RateWindow.Backend] {
		return fmt.Errorf("rate_window.backend must be memory or redis, got %q", cfg.RateWindow.Backend)
	}
	if cfg.RateWindow.Backend == "redis" && cfg.RateWindow.RedisAddr == "" {
		return fmt.Errorf("rate_window.redis_addr is required when backend is redis")
	}

	validProviderModes := map[string]bool{"static": true, "http": true}
	if !validProviderModes[cfg.Provider.Mode] {
		return fmt.Errorf("provider.mode must be static or http, got %q", cfg.Provider.Mode)
	}
	if cfg.Provider.Mode == "http" && cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required when provider.mode is http")
	}

	for i, l := range cfg.Listings {
		if l.ID == "" {
			return fmt.Errorf("listings[%d].id is required", i)
		}
		if l.RateCap <= 0 {
			return fmt.Errorf("listings[%d].rate_cap must be positive", i)
		}
		if l.CreditCost <= 0 {
			return fmt.Errorf("listings[%d].credit_cost must be positive", i)
		}
	}
	return nil
}
