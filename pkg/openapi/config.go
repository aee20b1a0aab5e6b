package openapi

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config controls the generated API document. ServerURL is the public
// origin advertised in the servers list when the service sits behind a
// proxy; the API base path is appended to it.
type Config struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`
	ServerURL   string `toml:"server_url"`
	Serve       *bool  `toml:"serve"`
}

// ConfigEnv names the environment variables that override each field.
type ConfigEnv struct {
	Title       string
	Description string
	ServerURL   string
	Serve       string
}

// Enabled reports whether the document is served. Defaults to true.
func (c *Config) Enabled() bool {
	return c.Serve == nil || *c.Serve
}

// Server joins ServerURL and basePath.
func (c *Config) Server(basePath string) string {
	return strings.TrimSuffix(c.ServerURL, "/") + basePath
}

func (c *Config) Finalize(env *ConfigEnv) error {
	if c.Title == "" {
		c.Title = "Compass API"
	}
	if c.Description == "" {
		c.Description = "Workflow orchestration and human review for geo-regulatory compliance analysis."
	}

	if env != nil {
		if err := c.loadEnv(env); err != nil {
			return err
		}
	}

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server_url must be an absolute URL, got %q", c.ServerURL)
		}
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	for _, f := range []struct{ dst *string; src string }{
		{&c.Title, overlay.Title},
		{&c.Description, overlay.Description},
		{&c.ServerURL, overlay.ServerURL},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	if overlay.Serve != nil {
		c.Serve = overlay.Serve
	}
}

func (c *Config) loadEnv(env *ConfigEnv) error {
	for _, f := range []struct{ name string; dst *string }{
		{env.Title, &c.Title},
		{env.Description, &c.Description},
		{env.ServerURL, &c.ServerURL},
	} {
		if f.name == "" {
			continue
		}
		if v := os.Getenv(f.name); v != "" {
			*f.dst = v
		}
	}

	if env.Serve == "" {
		return nil
	}
	if v := os.Getenv(env.Serve); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env.Serve, err)
		}
		c.Serve = &b
	}
	return nil
}
