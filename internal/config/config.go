// Package config loads the ledger server configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// minRebalanceCooldown is the floor of ledger.rebalance_cooldown.
const minRebalanceCooldown = 60 * time.Second

// Config holds all server configuration.
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Store struct {
		Driver      string        `yaml:"driver"`
		DatabaseURL string        `yaml:"database_url"`
		SQLitePath  string        `yaml:"sqlite_path"`
		RedisURL    string        `yaml:"redis_url"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
	} `yaml:"store"`
	Ledger struct {
		RebalanceCooldown            time.Duration `yaml:"rebalance_cooldown"`
		EnforcePositionLimit         bool          `yaml:"enforce_position_limit"`
		RequireUnhealthyForRebalance bool          `yaml:"require_unhealthy_for_rebalance"`
	} `yaml:"ledger"`
	API struct {
		MaxClockSkew time.Duration `yaml:"max_clock_skew"`
		RateLimit    struct {
			RequestsPerMinute float64 `yaml:"requests_per_minute"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"api"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("REBALANCE_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("REBALANCE_COOLDOWN: %w", err)
		}
		cfg.Ledger.RebalanceCooldown = d
	}
	if v := os.Getenv("ENFORCE_POSITION_LIMIT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("ENFORCE_POSITION_LIMIT: %w", err)
		}
		cfg.Ledger.EnforcePositionLimit = b
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Store.Driver == "" {
		// A DATABASE_URL alone selects Postgres, as before drivers existed.
		if cfg.Store.DatabaseURL != "" {
			cfg.Store.Driver = DriverPostgres
		} else {
			cfg.Store.Driver = DriverMemory
		}
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "data/solshield.db"
	}
	if cfg.Store.CacheTTL == 0 {
		cfg.Store.CacheTTL = 30 * time.Second
	}
	if cfg.Ledger.RebalanceCooldown == 0 {
		cfg.Ledger.RebalanceCooldown = minRebalanceCooldown
	}
	if cfg.API.MaxClockSkew == 0 {
		cfg.API.MaxClockSkew = 5 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}

	return cfg, nil
}

// Validate checks field consistency.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, postgres, sqlite", c.Store.Driver)
	}
	if c.Ledger.RebalanceCooldown < minRebalanceCooldown {
		return fmt.Errorf("ledger.rebalance_cooldown must be at least %s", minRebalanceCooldown)
	}
	if c.API.MaxClockSkew <= 0 {
		return fmt.Errorf("api.max_clock_skew must be positive")
	}
	if c.API.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("api.rate_limit.requests_per_minute must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
