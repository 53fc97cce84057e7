// Package config loads the engine configuration from YAML, with a .env file
// for local secrets/overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Studio   StudioConfig   `yaml:"studio"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// StudioConfig carries the operation-wide scheduling and money defaults.
type StudioConfig struct {
	// TaxRatePercent is the current studio-wide tax rate, snapshotted onto
	// new bookings.
	TaxRatePercent float64 `yaml:"tax_rate_percent"`

	// BufferMinutes is appended after every booking's end before the
	// resource is considered free again.
	BufferMinutes int `yaml:"buffer_minutes"`

	// SettledToleranceMinorUnits is the balance-due slack under which a
	// booking counts as fully paid.
	SettledToleranceMinorUnits int64 `yaml:"settled_tolerance_minor_units"`

	// Currency is informational (a single fractional-free integer unit).
	Currency string `yaml:"currency"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	// Path is the SQLite database path; ":memory:" for ephemeral runs.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		App:    AppConfig{Name: "studio-engine", Environment: "development"},
		Studio: StudioConfig{TaxRatePercent: 11, BufferMinutes: 15, SettledToleranceMinorUnits: 100, Currency: "IDR"},
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Path: "studio.db",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path (optional) over the defaults, then
// applies PORT and DB_PATH env overrides. A .env file is loaded first when
// present; a missing one is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Studio.TaxRatePercent < 0 {
		return errors.New("studio.tax_rate_percent must not be negative")
	}
	if c.Studio.BufferMinutes < 0 {
		return errors.New("studio.buffer_minutes must not be negative")
	}
	if c.Studio.SettledToleranceMinorUnits < 0 {
		return errors.New("studio.settled_tolerance_minor_units must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	return nil
}
