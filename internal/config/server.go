package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	EnvServerHost              = "COMPASS_SERVER_HOST"
	EnvServerPort              = "COMPASS_SERVER_PORT"
	EnvServerReadTimeout       = "COMPASS_SERVER_READ_TIMEOUT"
	EnvServerReadHeaderTimeout = "COMPASS_SERVER_READ_HEADER_TIMEOUT"
	EnvServerWriteTimeout      = "COMPASS_SERVER_WRITE_TIMEOUT"
	EnvServerIdleTimeout       = "COMPASS_SERVER_IDLE_TIMEOUT"
	EnvServerShutdownTimeout   = "COMPASS_SERVER_SHUTDOWN_TIMEOUT"
)

// ServerConfig holds HTTP listener parameters. WriteTimeout bounds every
// response, so it must outlast the longest progress stream a client is
// expected to hold open; "0s" disables it.
type ServerConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	ReadTimeout       string `toml:"read_timeout"`
	ReadHeaderTimeout string `toml:"read_header_timeout"`
	WriteTimeout      string `toml:"write_timeout"`
	IdleTimeout       string `toml:"idle_timeout"`
	ShutdownTimeout   string `toml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return duration(c.ReadTimeout)
}

func (c *ServerConfig) ReadHeaderTimeoutDuration() time.Duration {
	return duration(c.ReadHeaderTimeout)
}

func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return duration(c.WriteTimeout)
}

func (c *ServerConfig) IdleTimeoutDuration() time.Duration {
	return duration(c.IdleTimeout)
}

// ShutdownTimeoutDuration bounds how long in-flight requests may drain.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return duration(c.ShutdownTimeout)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ServerConfig) Finalize() error {
	c.loadDefaults()
	if err := c.loadEnv(); err != nil {
		return err
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ServerConfig) Merge(overlay *ServerConfig) {
	mergeString(&c.Host, overlay.Host)
	if overlay.Port != 0 {
		c.Port = overlay.Port
	}
	mergeString(&c.ReadTimeout, overlay.ReadTimeout)
	mergeString(&c.ReadHeaderTimeout, overlay.ReadHeaderTimeout)
	mergeString(&c.WriteTimeout, overlay.WriteTimeout)
	mergeString(&c.IdleTimeout, overlay.IdleTimeout)
	mergeString(&c.ShutdownTimeout, overlay.ShutdownTimeout)
}

func (c *ServerConfig) timeouts() []struct {
	field string
	value *string
	def   string
	env   string
} {
	return []struct {
		field string
		value *string
		def   string
		env   string
	}{
		{"read_timeout", &c.ReadTimeout, "1m", EnvServerReadTimeout},
		{"read_header_timeout", &c.ReadHeaderTimeout, "10s", EnvServerReadHeaderTimeout},
		{"write_timeout", &c.WriteTimeout, "0s", EnvServerWriteTimeout},
		{"idle_timeout", &c.IdleTimeout, "2m", EnvServerIdleTimeout},
		{"shutdown_timeout", &c.ShutdownTimeout, "30s", EnvServerShutdownTimeout},
	}
}

func (c *ServerConfig) loadDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	for _, t := range c.timeouts() {
		if *t.value == "" {
			*t.value = t.def
		}
	}
}

func (c *ServerConfig) loadEnv() error {
	if v := os.Getenv(EnvServerHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvServerPort, err)
		}
		c.Port = port
	}
	for _, t := range c.timeouts() {
		if v := os.Getenv(t.env); v != "" {
			*t.value = v
		}
	}
	return nil
}

func (c *ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	for _, t := range c.timeouts() {
		d, err := time.ParseDuration(*t.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", t.field, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", t.field)
		}
	}
	if c.ShutdownTimeoutDuration() == 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
