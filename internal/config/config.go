package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/adsight/backfill/internal/gaps"
	"github.com/adsight/backfill/internal/pacing"
	"github.com/adsight/backfill/internal/server"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/upstream"
)

// Config represents the application configuration
type Config struct {
	Database store.Config    `toml:"database"`
	Upstream upstream.Config `toml:"upstream"`
	Pacing   pacing.Config   `toml:"pacing"`
	HTTP     server.Config   `toml:"http"`
	Chain    ChainConfig     `toml:"chain"`
	Gaps     GapsConfig      `toml:"gaps"`
	Logging  LoggingConfig   `toml:"logging"`
}

// ChainConfig holds month-queue worker settings
type ChainConfig struct {
	Enabled      bool          `toml:"enabled"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// GapsConfig holds gap detection settings
type GapsConfig struct {
	MinDays int `toml:"min_days"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: store.Config{
			Driver:          "sqlite3",
			DSN:             "backfill.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Upstream: upstream.DefaultConfig(),
		Pacing:   pacing.DefaultConfig(),
		HTTP:     server.DefaultConfig(),
		Chain: ChainConfig{
			Enabled:      true,
			PollInterval: 15 * time.Second,
		},
		Gaps: GapsConfig{
			MinDays: gaps.DefaultMinLength,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.Upstream.Validate(); err != nil {
		return err
	}
	if err := c.Pacing.Validate(); err != nil {
		return err
	}

	// HTTP validation
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	// Chain validation
	if c.Chain.Enabled && c.Chain.PollInterval <= 0 {
		return fmt.Errorf("chain poll_interval must be positive")
	}

	// Gaps validation
	if c.Gaps.MinDays <= 0 {
		return fmt.Errorf("gaps min_days must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
