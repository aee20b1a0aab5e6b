package storage

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	BackendAzure  = "azure"
	BackendMemory = "memory"
)

var containerName = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9]|-[a-z0-9]){2,62}$`)

// Config selects the storage backend. The azure backend needs a
// connection string or an account URL; the latter authenticates through
// the default Azure credential chain. KeyPrefix namespaces every key so
// several deployments can share one container.
type Config struct {
	Backend          string `toml:"backend"`
	ContainerName    string `toml:"container_name"`
	ConnectionString string `toml:"connection_string"`
	AccountURL       string `toml:"account_url"`
	KeyPrefix        string `toml:"key_prefix"`
	MaxListSize      int32  `toml:"max_list_size"`
}

// Env names the environment variables that override each field.
type Env struct {
	Backend          string
	ContainerName    string
	ConnectionString string
	AccountURL       string
	KeyPrefix        string
	MaxListSize      string
}

// Finalize applies defaults, environment overrides from env (which may be
// nil), and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		if err := c.loadEnv(env); err != nil {
			return err
		}
	}
	c.MaxListSize = min(c.MaxListSize, MaxListCap)
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	for _, f := range []struct{ dst *string; src string }{
		{&c.Backend, overlay.Backend},
		{&c.ContainerName, overlay.ContainerName},
		{&c.ConnectionString, overlay.ConnectionString},
		{&c.AccountURL, overlay.AccountURL},
		{&c.KeyPrefix, overlay.KeyPrefix},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	if overlay.MaxListSize != 0 {
		c.MaxListSize = overlay.MaxListSize
	}
}

func (c *Config) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendAzure
	}
	if c.ContainerName == "" {
		c.ContainerName = "compass"
	}
	if c.MaxListSize == 0 {
		c.MaxListSize = 50
	}
}

func (c *Config) loadEnv(env *Env) error {
	for _, f := range []struct{ name string; dst *string }{
		{env.Backend, &c.Backend},
		{env.ContainerName, &c.ContainerName},
		{env.ConnectionString, &c.ConnectionString},
		{env.AccountURL, &c.AccountURL},
		{env.KeyPrefix, &c.KeyPrefix},
	} {
		if f.name == "" {
			continue
		}
		if v := os.Getenv(f.name); v != "" {
			*f.dst = v
		}
	}

	if env.MaxListSize == "" {
		return nil
	}
	if v := os.Getenv(env.MaxListSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", env.MaxListSize, err)
		}
		c.MaxListSize = int32(n)
	}
	return nil
}

func (c *Config) validate() error {
	if c.MaxListSize < 1 {
		return fmt.Errorf("max_list_size must be positive")
	}
	if c.KeyPrefix != "" {
		if err := validateKey(strings.TrimSuffix(c.KeyPrefix, "/")); err != nil {
			return fmt.Errorf("key_prefix: %w", err)
		}
	}

	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendAzure:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if len(c.ContainerName) > 63 || !containerName.MatchString(c.ContainerName) {
		return fmt.Errorf("invalid container_name %q", c.ContainerName)
	}
	if c.ConnectionString == "" && c.AccountURL == "" {
		return fmt.Errorf("connection_string or account_url required")
	}
	return nil
}
