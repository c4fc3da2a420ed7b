// Package config loads the engine's runtime configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Mail    MailConfig
	Catalog CatalogConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// StoreConfig selects and parameterizes the persistence backend.
//
//	Backend "sqlite": Path is the database file (":memory:" for ephemeral)
//	Backend "remote": URL and Token address the records service
type StoreConfig struct {
	Backend string
	Path    string
	URL     string
	Token   string
}

// MailConfig addresses the outbound mail gateway used for checkout
// confirmations. Empty URL disables delivery.
type MailConfig struct {
	URL   string
	Token string
}

// CatalogConfig holds the reference-data refresh schedule.
type CatalogConfig struct {
	CronSchedule string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are acceptable when configuration comes
		// from the environment directly.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Store: StoreConfig{
			Backend: getenvWithDefault("STORE_BACKEND", "sqlite"),
			Path:    getenvWithDefault("STORE_PATH", "./data/custody.db"),
			URL:     os.Getenv("RECORDS_SERVICE_URL"),
			Token:   os.Getenv("RECORDS_SERVICE_TOKEN"),
		},
		Mail: MailConfig{
			URL:   os.Getenv("MAIL_GATEWAY_URL"),
			Token: os.Getenv("MAIL_GATEWAY_TOKEN"),
		},
		Catalog: CatalogConfig{
			CronSchedule: getenvWithDefault("CATALOG_CRON_SCHEDULE", "0 */4 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("STORE_PATH must be provided for the sqlite backend")
		}
	case "remote":
		switch {
		case c.Store.URL == "":
			return errors.New("RECORDS_SERVICE_URL must be provided for the remote backend")
		case c.Store.Token == "":
			return errors.New("RECORDS_SERVICE_TOKEN must be provided for the remote backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want sqlite or remote)", c.Store.Backend)
	}

	if c.Mail.URL != "" && c.Mail.Token == "" {
		return errors.New("MAIL_GATEWAY_TOKEN must be provided when MAIL_GATEWAY_URL is set")
	}

	if c.Catalog.CronSchedule == "" {
		return errors.New("CATALOG_CRON_SCHEDULE must be provided")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
