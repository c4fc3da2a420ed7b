package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labworks/custody-engine/config"
)

func TestLoad_DefaultsToSQLiteBackend(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "./data/custody.db", cfg.Store.Path)
	assert.Equal(t, "0 */4 * * *", cfg.Catalog.CronSchedule)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"APP_PORT=9090\nSTORE_BACKEND=remote\nRECORDS_SERVICE_URL=http://records.local\nRECORDS_SERVICE_TOKEN=secret\n",
	), 0o600))

	cfg, err := config.Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "remote", cfg.Store.Backend)
	assert.Equal(t, "http://records.local", cfg.Store.URL)
	assert.Equal(t, "secret", cfg.Store.Token)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Server:  config.ServerConfig{Port: "8080"},
			Store:   config.StoreConfig{Backend: "sqlite", Path: ":memory:"},
			Catalog: config.CatalogConfig{CronSchedule: "0 */4 * * *"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"valid sqlite", func(*config.Config) {}, false},
		{"missing port", func(c *config.Config) { c.Server.Port = "" }, true},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "cassandra" }, true},
		{"sqlite without path", func(c *config.Config) { c.Store.Path = "" }, true},
		{"remote without url", func(c *config.Config) {
			c.Store.Backend = "remote"
			c.Store.Token = "secret"
		}, true},
		{"remote without token", func(c *config.Config) {
			c.Store.Backend = "remote"
			c.Store.URL = "http://records.local"
		}, true},
		{"valid remote", func(c *config.Config) {
			c.Store.Backend = "remote"
			c.Store.URL = "http://records.local"
			c.Store.Token = "secret"
		}, false},
		{"mail url without token", func(c *config.Config) { c.Mail.URL = "http://mail.local" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
