package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apimarket/metergate/config"
)

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metergate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090

database:
  driver: "sqlite"
  dsn: ":memory:"

provider:
  mode: "http"
  base_url: "http://localhost:3000"
  timeout: 15s

auth:
  key_marker: "test_"

listings:
  - id: "weather"
    name: "Weather API"
    version: "v2"
    status: "active"
    rate_cap: 100
    credit_cost: 2
    method: "GET"
    path: "/v2/current"
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "http://localhost:3000" {
		t.Errorf("Provider.BaseURL = %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.Timeout != 15*time.Second {
		t.Errorf("Provider.Timeout = %v, want 15s", cfg.Provider.Timeout)
	}
	if cfg.Auth.KeyMarker != "test_" {
		t.Errorf("Auth.KeyMarker = %s, want test_", cfg.Auth.KeyMarker)
	}
	if len(cfg.Listings) != 1 {
		t.Fatalf("len(Listings) = %d, want 1", len(cfg.Listings))
	}
	if cfg.Listings[0].ID != "weather" || cfg.Listings[0].RateCap != 100 {
		t.Errorf("Listings[0] = %+v", cfg.Listings[0])
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, `{}`)

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "metergate.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.RateWindow.Backend != "memory" {
		t.Errorf("RateWindow.Backend = %s, want memory", cfg.RateWindow.Backend)
	}
	if cfg.Provider.Mode != "static" {
		t.Errorf("Provider.Mode = %s, want static", cfg.Provider.Mode)
	}
	if cfg.Auth.KeyMarker != "mk_" {
		t.Errorf("Auth.KeyMarker = %s, want mk_", cfg.Auth.KeyMarker)
	}
	if cfg.Recorder.MaxAttempts != 3 || cfg.Recorder.BaseBackoff != 50*time.Millisecond {
		t.Errorf("Recorder = %+v", cfg.Recorder)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DSN", "host=db user=mg")

	cfg := writeAndLoad(t, `
database:
  driver: "postgres"
  dsn: "${TEST_DSN}"
`)
	if cfg.Database.DSN != "host=db user=mg" {
		t.Errorf("DSN = %s, want expanded value", cfg.Database.DSN)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("METERGATE_SERVER_PORT", "9999")
	t.Setenv("METERGATE_AUTH_KEY_MARKER", "zz_")

	cfg := writeAndLoad(t, `
server:
  port: 8081
auth:
  key_marker: "aa_"
`)
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Auth.KeyMarker != "zz_" {
		t.Errorf("KeyMarker = %s, want env override zz_", cfg.Auth.KeyMarker)
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metergate.yaml")
	os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o644)

	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("err = %v, want database.driver validation error", err)
	}
}

func TestLoad_RedisBackendNeedsAddr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metergate.yaml")
	os.WriteFile(path, []byte("rate_window:\n  backend: redis\n"), 0o644)

	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Errorf("err = %v, want redis_addr validation error", err)
	}
}

func TestLoad_HTTPProviderNeedsURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metergate.yaml")
	os.WriteFile(path, []byte("provider:\n  mode: http\n"), 0o644)

	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Errorf("err = %v, want base_url validation error", err)
	}
}

func TestLoad_ListingValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing id", "listings:\n  - name: x\n    rate_cap: 1\n    credit_cost: 1\n", "id is required"},
		{"bad rate cap", "listings:\n  - id: x\n    rate_cap: 0\n    credit_cost: 1\n", "rate_cap"},
		{"bad credit cost", "listings:\n  - id: x\n    rate_cap: 1\n    credit_cost: -1\n", "credit_cost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "metergate.yaml")
			os.WriteFile(path, []byte(tc.yaml), 0o644)

			_, err := config.Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("METERGATE_DATABASE_DRIVER", "memory")
	t.Setenv("METERGATE_PROVIDER_MODE", "static")
	t.Setenv("METERGATE_LOG_FORMAT", "console")
	t.Setenv("METERGATE_METRICS_ENABLED", "yes")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %s, want memory", cfg.Database.Driver)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Format = %s, want console", cfg.Logging.Format)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoadWithFallback(t *testing.T) {
	// With an existing file the file wins.
	path := filepath.Join(t.TempDir(), "metergate.yaml")
	os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o644)

	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("fallback with file: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Server.Port)
	}

	// Without a file it falls back to env and defaults.
	cfg, err = config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("fallback without file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metergate.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0o644)

	if _, err := config.Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("METERGATE_SERVER_PORT", "not-a-port")
	t.Setenv("METERGATE_PROVIDER_TIMEOUT", "not-a-duration")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080 for unparseable override", cfg.Server.Port)
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want default 30s", cfg.Provider.Timeout)
	}
}
