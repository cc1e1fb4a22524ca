// Package config loads tether's configuration: a TOML file with defaults
// for every field, overridden by environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/tetherlabs/tether/internal/paths"
)

// Defaults. The reconnect and timeout values are observable behavior under
// test and must not change casually.
const (
	DefaultServerURL         = "http://localhost:8080"
	DefaultWSPath            = "/ws/claude"
	DefaultHealthPath        = "/api/health"
	DefaultSendTimeout       = 5 * time.Second
	DefaultProbeInterval     = 3 * time.Second
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = time.Second
	DefaultLogLevel          = "info"
)

// Config is the resolved tether configuration.
type Config struct {
	ServerURL         string        `toml:"server_url"`
	WSPath            string        `toml:"ws_path"`
	HealthPath        string        `toml:"health_path"`
	SendTimeout       time.Duration `toml:"send_timeout"`
	ProbeInterval     time.Duration `toml:"probe_interval"`
	ReconnectAttempts int           `toml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `toml:"reconnect_delay"`
	LogLevel          string        `toml:"log_level"`
}

// Default returns a Config with every field at its default.
func Default() Config {
	return Config{
		ServerURL:         DefaultServerURL,
		WSPath:            DefaultWSPath,
		HealthPath:        DefaultHealthPath,
		SendTimeout:       DefaultSendTimeout,
		ProbeInterval:     DefaultProbeInterval,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		LogLevel:          DefaultLogLevel,
	}
}

// Load resolves configuration with the following priority:
// 1. Environment variables (TETHER_SERVER_URL, TETHER_LOG_LEVEL) — highest
// 2. TOML file at paths.ConfigFilePath() (TETHER_CONFIG overrides the path)
// 3. Built-in defaults
// A missing config file is not an error.
func Load() (Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific TOML file, applying defaults
// for absent fields and env overrides on top.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304 - user-selected config path
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if v := os.Getenv("TETHER_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("TETHER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and normalizes zero values back to
// defaults so a partially filled file never disables a safeguard.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server_url %q: scheme must be http or https", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server_url %q: missing host", c.ServerURL)
	}

	if c.WSPath == "" {
		c.WSPath = DefaultWSPath
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts must not be negative, got %d", c.ReconnectAttempts)
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return nil
}

// HealthURL returns the absolute URL of the liveness probe endpoint.
func (c Config) HealthURL() string {
	return c.ServerURL + c.HealthPath
}
