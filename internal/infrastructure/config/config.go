package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Script      ScriptConfig
	Sandbox     SandboxConfig
	Logging     LogConfig
	RateLimit   RateLimitConfig
	Compression CompressionConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// ScriptConfig locates the script resource.
type ScriptConfig struct {
	ResourceRoot string `envconfig:"RESOURCE_ROOT" default:"web"`
	Path         string `envconfig:"SCRIPT_PATH" default:"static/graph.js"`
	Sanitize     bool   `envconfig:"SCRIPT_SANITIZE" default:"false"`
}

// SandboxConfig holds script sandbox limits.
type SandboxConfig struct {
	Timeout       time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	MaxConcurrent int           `envconfig:"SANDBOX_MAX_CONCURRENT" default:"8"`
	AcquireWait   time.Duration `envconfig:"SANDBOX_ACQUIRE_TIMEOUT" default:"30s"`
	MaxCallStack  int           `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024"`
	EnableConsole bool          `envconfig:"SANDBOX_CONSOLE" default:"true"`
	EnableRequire bool          `envconfig:"SANDBOX_REQUIRE" default:"true"`
	RequireAllow  []string      `envconfig:"SANDBOX_REQUIRE_ALLOW" default:"**/*.js,**/*.json"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	GlobalRPS         int  `envconfig:"RATE_LIMIT_GLOBAL_RPS" default:"500"`
	GlobalBurst       int  `envconfig:"RATE_LIMIT_GLOBAL_BURST" default:"1000"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CompressionConfig toggles response compression.
type CompressionConfig struct {
	Gzip bool `envconfig:"HTTP_GZIP" default:"true"`
}

// ScriptFile returns the script location joined onto the resource root.
func (s ScriptConfig) ScriptFile() string {
	if filepath.IsAbs(s.Path) {
		return filepath.Clean(s.Path)
	}
	return filepath.Join(s.ResourceRoot, s.Path)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Script.Path) == "" {
		return fmt.Errorf("SCRIPT_PATH must not be empty")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("SANDBOX_MAX_CONCURRENT must be positive, got %d", c.Sandbox.MaxConcurrent)
	}
	if c.Sandbox.AcquireWait < 0 {
		return fmt.Errorf("SANDBOX_ACQUIRE_TIMEOUT must not be negative, got %s", c.Sandbox.AcquireWait)
	}
	return nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Script: ScriptConfig{
			ResourceRoot: "web",
			Path:         "static/graph.js",
		},
		Sandbox: SandboxConfig{
			Timeout:       5 * time.Second,
			MaxConcurrent: 8,
			AcquireWait:   30 * time.Second,
			MaxCallStack:  1024,
			EnableConsole: true,
			EnableRequire: true,
			RequireAllow:  []string{"**/*.js", "**/*.json"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			GlobalRPS:         500,
			GlobalBurst:       1000,
			Enabled:           true,
		},
		Compression: CompressionConfig{
			Gzip: true,
		},
	}
}
