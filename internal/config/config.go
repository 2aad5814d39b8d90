// Package config loads the clawrouter JSON configuration, filling defaults
// for anything the file leaves out.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/clawinfra/clawrouter/internal/router"
)

// Config holds all clawrouter configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Routing is the core engine configuration.
	Routing router.Config `json:"routing"`

	// Upstream aggregator API.
	Upstream UpstreamConfig `json:"upstream"`

	// Auth protects the /api/* admin surface.
	Auth AuthConfig `json:"auth"`

	// Catalog points at a model catalog override.
	Catalog CatalogConfig `json:"catalog,omitempty"`

	// KeywordsPath points at a keyword-list override for the classifier.
	KeywordsPath string `json:"keywordsPath,omitempty"`

	// Usage is the local decision/feedback log.
	Usage UsageConfig `json:"usage,omitempty"`

	// Telemetry is the optional MQTT event publisher.
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// Payments signs x402-style challenges from the upstream.
	Payments PaymentsConfig `json:"payments,omitempty"`

	// Maintenance drives the background sweeps.
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

type UpstreamConfig struct {
	BaseURL        string `json:"baseUrl"`
	APIKey         string `json:"apiKey,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type AuthConfig struct {
	// JWTSecret signs admin bearer tokens (HS256). Empty disables the
	// /api/* surface entirely; the chat proxy stays open.
	JWTSecret       string `json:"jwtSecret,omitempty"`
	TokenTTLMinutes int    `json:"tokenTtlMinutes"`
}

type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

type UsageConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // sqlite file; defaults under dataDir
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"brokerUrl,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topicPrefix,omitempty"`
}

type PaymentsConfig struct {
	Enabled       bool   `json:"enabled"`
	PrivateKeyHex string `json:"privateKeyHex,omitempty"`
}

type MaintenanceConfig struct {
	// Schedule is a cron spec for the sweep job.
	Schedule string `json:"schedule,omitempty"`
}

// Default returns a complete default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8787,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Routing: router.DefaultConfig(),
		Upstream: UpstreamConfig{
			BaseURL:        "https://api.aggregator.example/v1",
			TimeoutSeconds: 120,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 60,
		},
		Usage: UsageConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			TopicPrefix: "clawrouter",
		},
		Maintenance: MaintenanceConfig{
			Schedule: "@every 5m",
		},
	}
}

// Load reads config from a JSON file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}
	return cfg, nil
}

// Save writes config to a JSON file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o640)
}

// Validate checks the parts the engine cannot check itself.
func (c *Config) Validate() error {
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port: invalid port %d", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("config: upstream.baseUrl: required")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: upstream.timeoutSeconds: must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.BrokerURL == "" {
		return fmt.Errorf("config: telemetry.brokerUrl: required when telemetry is enabled")
	}
	return nil
}

// UsagePath resolves the sqlite usage-log path.
func (c *Config) UsagePath() string {
	if c.Usage.Path != "" {
		return c.Usage.Path
	}
	return filepath.Join(c.Server.DataDir, "usage.db")
}

// LogLevel maps the configured level string to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
