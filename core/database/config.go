package database

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// DriverPostgres selects the production Postgres backend.
	DriverPostgres = "postgres"
	// DriverSQLite selects the embedded SQLite backend (dev profile, tests).
	DriverSQLite = "sqlite"
)

// Config holds database connection settings.
type Config struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// File is the SQLite database path; used only with the sqlite driver.
	File string `yaml:"file" envconfig:"DB_FILE"`
}

// LoadConfig reads connection settings from DB_* environment variables and
// fills driver-appropriate defaults. SQLite is the default backend so a bare
// environment still boots.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("database config: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		if cfg.File == "" {
			cfg.File = "multibot.db"
		}
	case DriverPostgres:
		cfg.Driver = DriverPostgres
		if cfg.Host == "" {
			cfg.Host = "localhost"
		}
		if cfg.Port == "" {
			cfg.Port = "5432"
		}
		if cfg.SSLMode == "" {
			cfg.SSLMode = "disable"
		}
	default:
		return Config{}, fmt.Errorf("database config: unknown driver %q", cfg.Driver)
	}
	return cfg, nil
}
