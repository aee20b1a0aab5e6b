package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/compass/internal/dispatch"
)

// Store backends for workflow instances and HITL prompts.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	Store           string `toml:"store"`
	MaxStepAttempts int    `toml:"max_step_attempts"`
	BackoffInitial  string `toml:"backoff_initial"`
	BackoffMax      string `toml:"backoff_max"`
	Recover         *bool  `toml:"recover"`
}

func (c *EngineConfig) BackoffInitialDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffInitial)
	return d
}

func (c *EngineConfig) BackoffMaxDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffMax)
	return d
}

// RecoverOnStart reports whether open workflows are resumed at startup.
func (c *EngineConfig) RecoverOnStart() bool {
	return c.Recover == nil || *c.Recover
}

func (c *EngineConfig) Finalize() error {
	if c.Store == "" {
		c.Store = StorePostgres
	}
	if c.MaxStepAttempts == 0 {
		c.MaxStepAttempts = 3
	}
	if c.BackoffInitial == "" {
		c.BackoffInitial = "500ms"
	}
	if c.BackoffMax == "" {
		c.BackoffMax = "10s"
	}

	if v := os.Getenv("COMPASS_ENGINE_STORE"); v != "" {
		c.Store = v
	}
	if err := envInt("COMPASS_ENGINE_MAX_STEP_ATTEMPTS", &c.MaxStepAttempts); err != nil {
		return err
	}
	if v := os.Getenv("COMPASS_ENGINE_RECOVER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COMPASS_ENGINE_RECOVER: %w", err)
		}
		c.Recover = &b
	}

	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.MaxStepAttempts < 1 {
		return fmt.Errorf("max_step_attempts must be at least 1")
	}
	if err := positiveDuration("backoff_initial", c.BackoffInitial); err != nil {
		return err
	}
	return positiveDuration("backoff_max", c.BackoffMax)
}

func (c *EngineConfig) Merge(overlay *EngineConfig) {
	if overlay.Store != "" {
		c.Store = overlay.Store
	}
	if overlay.MaxStepAttempts != 0 {
		c.MaxStepAttempts = overlay.MaxStepAttempts
	}
	if overlay.BackoffInitial != "" {
		c.BackoffInitial = overlay.BackoffInitial
	}
	if overlay.BackoffMax != "" {
		c.BackoffMax = overlay.BackoffMax
	}
	if overlay.Recover != nil {
		c.Recover = overlay.Recover
	}
}

// DispatchConfig tunes provider fan-out rounds.
type DispatchConfig struct {
	MaxConcurrency int    `toml:"max_concurrency"`
	TaskTimeout    string `toml:"task_timeout"`
	RoundTimeout   string `toml:"round_timeout"`
	Retries        int    `toml:"retries"`
	Policy         string `toml:"policy"`
}

func (c *DispatchConfig) TaskTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.TaskTimeout)
	return d
}

func (c *DispatchConfig) RoundTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RoundTimeout)
	return d
}

// ParsedPolicy returns Policy as a dispatch.Policy. Finalize has already
// rejected invalid values.
func (c *DispatchConfig) ParsedPolicy() dispatch.Policy {
	p, err := dispatch.ParsePolicy(c.Policy)
	if err != nil {
		return dispatch.BestEffort()
	}
	return p
}

func (c *DispatchConfig) Finalize() error {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 16
	}
	if c.TaskTimeout == "" {
		c.TaskTimeout = "10s"
	}
	if c.RoundTimeout == "" {
		c.RoundTimeout = "30s"
	}
	if c.Retries == 0 {
		c.Retries = 1
	}
	if c.Policy == "" {
		c.Policy = string(dispatch.PolicyBestEffort)
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"COMPASS_DISPATCH_MAX_CONCURRENCY", &c.MaxConcurrency},
		{"COMPASS_DISPATCH_RETRIES", &c.Retries},
	} {
		if err := envInt(f.name, f.dst); err != nil {
			return err
		}
	}
	if v := os.Getenv("COMPASS_DISPATCH_TASK_TIMEOUT"); v != "" {
		c.TaskTimeout = v
	}
	if v := os.Getenv("COMPASS_DISPATCH_ROUND_TIMEOUT"); v != "" {
		c.RoundTimeout = v
	}
	if v := os.Getenv("COMPASS_DISPATCH_POLICY"); v != "" {
		c.Policy = v
	}

	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if err := positiveDuration("task_timeout", c.TaskTimeout); err != nil {
		return err
	}
	if err := positiveDuration("round_timeout", c.RoundTimeout); err != nil {
		return err
	}
	if _, err := dispatch.ParsePolicy(c.Policy); err != nil {
		return err
	}
	return nil
}

func (c *DispatchConfig) Merge(overlay *DispatchConfig) {
	if overlay.MaxConcurrency != 0 {
		c.MaxConcurrency = overlay.MaxConcurrency
	}
	if overlay.TaskTimeout != "" {
		c.TaskTimeout = overlay.TaskTimeout
	}
	if overlay.RoundTimeout != "" {
		c.RoundTimeout = overlay.RoundTimeout
	}
	if overlay.Retries != 0 {
		c.Retries = overlay.Retries
	}
	if overlay.Policy != "" {
		c.Policy = overlay.Policy
	}
}

// HITLConfig controls prompt expiry.
type HITLConfig struct {
	Expiry        string `toml:"expiry"`
	SweepInterval string `toml:"sweep_interval"`
}

func (c *HITLConfig) ExpiryDuration() time.Duration {
	d, _ := time.ParseDuration(c.Expiry)
	return d
}

func (c *HITLConfig) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

func (c *HITLConfig) Finalize() error {
	if c.Expiry == "" {
		c.Expiry = "72h"
	}
	if c.SweepInterval == "" {
		c.SweepInterval = "1m"
	}
	if v := os.Getenv("COMPASS_HITL_EXPIRY"); v != "" {
		c.Expiry = v
	}
	if v := os.Getenv("COMPASS_HITL_SWEEP_INTERVAL"); v != "" {
		c.SweepInterval = v
	}

	if err := positiveDuration("expiry", c.Expiry); err != nil {
		return err
	}
	return positiveDuration("sweep_interval", c.SweepInterval)
}

func (c *HITLConfig) Merge(overlay *HITLConfig) {
	if overlay.Expiry != "" {
		c.Expiry = overlay.Expiry
	}
	if overlay.SweepInterval != "" {
		c.SweepInterval = overlay.SweepInterval
	}
}

func positiveDuration(field, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

// envInt overwrites dst with the integer value of the named variable when set.
func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}
