package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
shop = "acme"
access_token = "shpat_test"
log_level = "debug"
poll_interval = "45s"
history_limit = 200
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Shop)
	assert.Equal(t, "shpat_test", cfg.AccessToken)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.PollInterval.Duration())
	assert.Equal(t, 200, cfg.HistoryLimit)

	// Unset keys keep their defaults.
	assert.Equal(t, defaultAPIVersion, cfg.APIVersion)
}

func TestLoad_UnknownKeyFatal(t *testing.T) {
	path := writeConfig(t, `
shop = "acme"
accss_token = "typo"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
	assert.Contains(t, err.Error(), "accss_token")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `poll_interval = "soon"`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval.Duration())
}

func TestResolve_PrecedenceChain(t *testing.T) {
	path := writeConfig(t, `
shop = "fileshop"
access_token = "filetoken"
db_path = "/tmp/file.db"
`)

	// Environment overrides the file.
	cfg, err := Resolve(
		EnvOverrides{ConfigPath: path, Shop: "envshop", AccessToken: "envtoken"},
		CLIOverrides{},
	)
	require.NoError(t, err)
	assert.Equal(t, "envshop", cfg.Shop)
	assert.Equal(t, "envtoken", cfg.AccessToken)
	assert.Equal(t, "/tmp/file.db", cfg.DBPath)

	// CLI flags override the environment.
	cfg, err = Resolve(
		EnvOverrides{ConfigPath: path, Shop: "envshop"},
		CLIOverrides{Shop: "clishop", DBPath: "/tmp/cli.db"},
	)
	require.NoError(t, err)
	assert.Equal(t, "clishop", cfg.Shop)
	assert.Equal(t, "/tmp/cli.db", cfg.DBPath)
}

func TestResolve_CLIConfigPathWins(t *testing.T) {
	envPath := writeConfig(t, `
shop = "envfile"
access_token = "t"
`)
	cliPath := writeConfig(t, `
shop = "clifile"
access_token = "t"
`)

	cfg, err := Resolve(
		EnvOverrides{ConfigPath: envPath},
		CLIOverrides{ConfigPath: cliPath},
	)
	require.NoError(t, err)
	assert.Equal(t, "clifile", cfg.Shop)
}

func TestResolve_ValidationFailure(t *testing.T) {
	_, err := Resolve(
		EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")},
		CLIOverrides{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shop or base_url")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Shop = "acme"
		cfg.AccessToken = "shpat_test"

		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, Validate(valid()))
	})

	t.Run("base_url instead of shop", func(t *testing.T) {
		cfg := valid()
		cfg.Shop = ""
		cfg.BaseURL = "http://localhost:8080/admin/api/2024-01"
		require.NoError(t, Validate(cfg))
	})

	t.Run("missing token", func(t *testing.T) {
		cfg := valid()
		cfg.AccessToken = ""
		require.Error(t, Validate(cfg))
	})

	t.Run("negative history limit", func(t *testing.T) {
		cfg := valid()
		cfg.HistoryLimit = -1
		require.Error(t, Validate(cfg))
	})

	t.Run("sub-second poll interval", func(t *testing.T) {
		cfg := valid()
		cfg.PollInterval = TOMLDuration(500 * time.Millisecond)
		require.Error(t, Validate(cfg))
	})
}

func TestAPIBaseURL(t *testing.T) {
	cfg := &Config{Shop: "acme", APIVersion: "2024-01"}
	assert.Equal(t, "https://acme.myshopify.com/admin/api/2024-01", cfg.APIBaseURL())

	cfg.BaseURL = "http://localhost:9999/admin/api/2024-01"
	assert.Equal(t, "http://localhost:9999/admin/api/2024-01", cfg.APIBaseURL())
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(envShop, "envshop")
	t.Setenv(envAccessToken, "envtoken")
	t.Setenv(envDBPath, "/tmp/env.db")
	t.Setenv(envConfigPath, "/tmp/env.toml")

	env := ReadEnvOverrides()
	assert.Equal(t, "envshop", env.Shop)
	assert.Equal(t, "envtoken", env.AccessToken)
	assert.Equal(t, "/tmp/env.db", env.DBPath)
	assert.Equal(t, "/tmp/env.toml", env.ConfigPath)
}
