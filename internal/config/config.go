// Package config loads and validates segwatch configuration from a
// TOML file with environment and CLI flag overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied before the config file is read.
const (
	defaultAPIVersion   = "2024-01"
	defaultLogLevel     = "info"
	defaultPollInterval = 30 * time.Second
	defaultHistoryLimit = 500
)

// Config mirrors the TOML config file.
type Config struct {
	// Shop is the myshopify.com subdomain, e.g. "acme" for
	// acme.myshopify.com. Ignored when BaseURL is set.
	Shop string `toml:"shop"`

	// APIVersion selects the Admin API version path segment.
	APIVersion string `toml:"api_version"`

	// BaseURL overrides the computed Admin API base URL entirely.
	// Point it at a pass-through proxy when direct access is blocked.
	BaseURL string `toml:"base_url"`

	// AccessToken is the Admin API access token. Usually supplied via
	// the SHOPIFY_ACCESS_TOKEN environment variable instead of the file.
	AccessToken string `toml:"access_token"`

	// DBPath is the SQLite state database location.
	DBPath string `toml:"db_path"`

	LogLevel     string       `toml:"log_level"`
	PollInterval TOMLDuration `toml:"poll_interval"`
	HistoryLimit int          `toml:"history_limit"`
}

// TOMLDuration parses Go duration strings ("30s", "5m") in TOML.
type TOMLDuration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *TOMLDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = TOMLDuration(parsed)

	return nil
}

// Duration returns the underlying time.Duration.
func (d TOMLDuration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		APIVersion:   defaultAPIVersion,
		LogLevel:     defaultLogLevel,
		DBPath:       DefaultDBPath(),
		PollInterval: TOMLDuration(defaultPollInterval),
		HistoryLimit: defaultHistoryLimit,
	}
}

// DefaultConfigPath returns the default config file location,
// ~/.config/segwatch/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}

	return filepath.Join(home, ".config", "segwatch", "config.toml")
}

// DefaultDBPath returns the default state database location,
// ~/.local/share/segwatch/state.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state.db"
	}

	return filepath.Join(home, ".local", "share", "segwatch", "state.db")
}

// APIBaseURL computes the effective Admin API base URL.
func (c *Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}

	return fmt.Sprintf("https://%s.myshopify.com/admin/api/%s", c.Shop, c.APIVersion)
}

// Validate checks that the config can reach an API at all. Token and
// shop are required for every command that talks to the remote.
func Validate(cfg *Config) error {
	if cfg.Shop == "" && cfg.BaseURL == "" {
		return fmt.Errorf("config: either shop or base_url must be set")
	}

	if cfg.AccessToken == "" {
		return fmt.Errorf("config: access_token must be set (or export SHOPIFY_ACCESS_TOKEN)")
	}

	if cfg.HistoryLimit < 0 {
		return fmt.Errorf("config: history_limit must not be negative")
	}

	if cfg.PollInterval.Duration() < time.Second {
		return fmt.Errorf("config: poll_interval must be at least 1s")
	}

	return nil
}
