package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/clawinfra/clawrouter/internal/router"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Routing.Tiers[router.TierSimple].Primary == "" {
		t.Error("routing defaults must carry tier tables")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawrouter.json")
	data := `{
		"server": {"port": 9999, "dataDir": "` + filepath.ToSlash(dir) + `", "logLevel": "debug"},
		"upstream": {"baseUrl": "https://example.test/v1", "apiKey": "k", "timeoutSeconds": 30}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("timeout = %d", cfg.Upstream.TimeoutSeconds)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel())
	}
	// Untouched sections keep their defaults.
	if cfg.Maintenance.Schedule != "@every 5m" {
		t.Errorf("schedule = %q", cfg.Maintenance.Schedule)
	}
	if cfg.Routing.Tiers[router.TierComplex].Primary == "" {
		t.Error("routing defaults must survive partial files")
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()

	for name, data := range map[string]string{
		"bad-json.json": `{`,
		"bad-port.json": `{"server": {"port": -1, "dataDir": "` + filepath.ToSlash(dir) + `"}}`,
		"no-url.json":   `{"upstream": {"baseUrl": "", "timeoutSeconds": 10}}`,
		"mqtt.json":     `{"telemetry": {"enabled": true}}`,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawrouter.json")

	cfg := Default()
	cfg.Server.Port = 1234
	cfg.Server.DataDir = dir
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Server.Port != 1234 {
		t.Errorf("port = %d", got.Server.Port)
	}
}

func TestUsagePath(t *testing.T) {
	cfg := Default()
	cfg.Server.DataDir = "/tmp/claw"
	if got := cfg.UsagePath(); got != filepath.Join("/tmp/claw", "usage.db") {
		t.Errorf("UsagePath = %q", got)
	}
	cfg.Usage.Path = "/elsewhere/u.db"
	if got := cfg.UsagePath(); got != "/elsewhere/u.db" {
		t.Errorf("UsagePath override = %q", got)
	}
}
