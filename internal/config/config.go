// Package config provides configuration loading for mindpalace.
//
// Configuration comes from an optional YAML file, overridden by environment
// variables, with defaults applied last. Annotation Service credentials are
// deliberately not validated here: a missing key fails each annotation at
// first use instead of keeping the whole service down.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete mindpalace configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Feed   FeedConfig   `koanf:"feed"`
	AI     AIConfig     `koanf:"ai"`
	Log    LogConfig    `koanf:"log"`
	Otel   OtelConfig   `koanf:"otel"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig locates the Record Store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// FeedConfig configures the change feed connection.
// An empty URL starts an embedded NATS server on EmbeddedPort.
type FeedConfig struct {
	URL          string `koanf:"url"`
	Token        Secret `koanf:"token"`
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// Embedded reports whether the feed runs in-process.
func (f FeedConfig) Embedded() bool {
	return f.URL == ""
}

// AIConfig configures the Annotation Service and the Annotator.
type AIConfig struct {
	BaseURL      string  `koanf:"base_url"`
	APIKey       Secret  `koanf:"api_key"`
	Model        string  `koanf:"model"`
	Temperature  float64 `koanf:"temperature"`
	SystemPrompt string  `koanf:"system_prompt"`
	Placeholder  string  `koanf:"placeholder"`

	// Endpoint, when set, sends annotation requests to a remote
	// POST /api/analyze instead of annotating in-process.
	Endpoint string `koanf:"endpoint"`

	ScrubSecrets bool `koanf:"scrub_secrets"`
	SingleWriter bool `koanf:"single_writer"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// OtelConfig holds OpenTelemetry export settings.
type OtelConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default values.
const (
	DefaultPort            = 3000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultModel           = "deepseek-chat"
	DefaultTemperature     = 0.7
	DefaultBaseURL         = "https://api.deepseek.com/v1"
	DefaultServiceName     = "mindpalace"
	DefaultEmbeddedPort    = 4222
)

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}

	if cfg.Feed.EmbeddedHost == "" {
		cfg.Feed.EmbeddedHost = "127.0.0.1"
	}
	if cfg.Feed.EmbeddedPort == 0 {
		cfg.Feed.EmbeddedPort = DefaultEmbeddedPort
	}

	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = DefaultBaseURL
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = DefaultModel
	}
	// Zero means unset; a literal 0.0 temperature is not expressible.
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = DefaultTemperature
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Otel.Endpoint == "" {
		cfg.Otel.Endpoint = "localhost:4317"
	}
	if cfg.Otel.Protocol == "" {
		cfg.Otel.Protocol = "grpc"
	}
	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = DefaultServiceName
	}
	if cfg.Otel.SampleRate == 0 {
		cfg.Otel.SampleRate = 1.0
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "thoughts.db"
	}
	return filepath.Join(home, ".local", "share", "mindpalace", "thoughts.db")
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Store path is empty
//   - Temperature is outside [0, 2]
//   - Log format is neither json nor console
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	if c.Feed.Embedded() && (c.Feed.EmbeddedPort < -1 || c.Feed.EmbeddedPort > 65535) {
		return fmt.Errorf("invalid embedded feed port: %d", c.Feed.EmbeddedPort)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai temperature must be between 0 and 2, got %v", c.AI.Temperature)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}
	if c.Otel.SampleRate < 0 || c.Otel.SampleRate > 1 {
		return fmt.Errorf("otel sample rate must be between 0 and 1, got %v", c.Otel.SampleRate)
	}
	return nil
}
