package cache

import (
	"database/sql"
	"fmt"
	"os"
	"time"
)

// Backend values.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// Config selects the cache backend and its expiry behavior.
type Config struct {
	Backend       string `toml:"backend"`
	TTL           string `toml:"ttl"`
	PurgeInterval string `toml:"purge_interval"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Backend       string
	TTL           string
	PurgeInterval string
}

// TTLDuration returns TTL as a time.Duration.
func (c *Config) TTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// PurgeIntervalDuration returns PurgeInterval as a time.Duration.
func (c *Config) PurgeIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PurgeInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.TTL != "" {
		c.TTL = overlay.TTL
	}
	if overlay.PurgeInterval != "" {
		c.PurgeInterval = overlay.PurgeInterval
	}
}

func (c *Config) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendPostgres
	}
	if c.TTL == "" {
		c.TTL = "1h"
	}
	if c.PurgeInterval == "" {
		c.PurgeInterval = "10m"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Backend != "" {
		if v := os.Getenv(env.Backend); v != "" {
			c.Backend = v
		}
	}
	if env.TTL != "" {
		if v := os.Getenv(env.TTL); v != "" {
			c.TTL = v
		}
	}
	if env.PurgeInterval != "" {
		if v := os.Getenv(env.PurgeInterval); v != "" {
			c.PurgeInterval = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendPostgres, BackendMemory, BackendNone:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := time.ParseDuration(c.TTL); err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.PurgeInterval); err != nil {
		return fmt.Errorf("invalid purge_interval: %w", err)
	}
	return nil
}

// New returns the store selected by cfg, or nil for BackendNone.
func New(cfg *Config, db *sql.DB) Store {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemory()
	case BackendPostgres:
		return NewPostgres(db)
	}
	return nil
}
