package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable names recognized as overrides.
const (
	envConfigPath  = "SEGWATCH_CONFIG"
	envShop        = "SEGWATCH_SHOP"
	envAccessToken = "SHOPIFY_ACCESS_TOKEN"
	envDBPath      = "SEGWATCH_DB"
)

// EnvOverrides carries configuration read from the environment.
type EnvOverrides struct {
	ConfigPath  string
	Shop        string
	AccessToken string
	DBPath      string
}

// CLIOverrides carries configuration from command-line flags.
// Flags win over environment, which wins over the file.
type CLIOverrides struct {
	ConfigPath string
	Shop       string
	DBPath     string
}

// ReadEnvOverrides reads the recognized environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(envConfigPath),
		Shop:        os.Getenv(envShop),
		AccessToken: os.Getenv(envAccessToken),
		DBPath:      os.Getenv(envDBPath),
	}
}

// Load reads and parses a TOML config file. Unknown keys are fatal:
// silently ignoring a typo in a config file leads to hard-to-debug
// behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config populated with all default values. This supports a
// zero-config first run where everything arrives via environment.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The result is validated and ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.Shop != "" {
		cfg.Shop = env.Shop
	}

	if env.AccessToken != "" {
		cfg.AccessToken = env.AccessToken
	}

	if env.DBPath != "" {
		cfg.DBPath = env.DBPath
	}

	if cli.Shop != "" {
		cfg.Shop = cli.Shop
	}

	if cli.DBPath != "" {
		cfg.DBPath = cli.DBPath
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
