package config

import (
	"fmt"
	"os"
	"time"

	"github.com/JaimeStill/compass/internal/synthesis"
	"github.com/JaimeStill/compass/pkg/cache"
	"github.com/JaimeStill/compass/pkg/database"
	"github.com/JaimeStill/compass/pkg/middleware"
	"github.com/JaimeStill/compass/pkg/storage"
	"github.com/pelletier/go-toml/v2"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvCompassEnv             = "COMPASS_ENV"
	EnvCompassShutdownTimeout = "COMPASS_SHUTDOWN_TIMEOUT"
	EnvCompassVersion         = "COMPASS_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "COMPASS_DB_HOST",
	Port:            "COMPASS_DB_PORT",
	Name:            "COMPASS_DB_NAME",
	User:            "COMPASS_DB_USER",
	Password:        "COMPASS_DB_PASSWORD",
	SSLMode:         "COMPASS_DB_SSL_MODE",
	MaxOpenConns:    "COMPASS_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "COMPASS_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "COMPASS_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "COMPASS_DB_CONN_TIMEOUT",
	ConnectAttempts: "COMPASS_DB_CONNECT_ATTEMPTS",
	MigrateOnStart:  "COMPASS_DB_MIGRATE_ON_START",
}

var storageEnv = &storage.Env{
	Backend:          "COMPASS_STORAGE_BACKEND",
	ContainerName:    "COMPASS_STORAGE_CONTAINER_NAME",
	ConnectionString: "COMPASS_STORAGE_CONNECTION_STRING",
	AccountURL:       "COMPASS_STORAGE_ACCOUNT_URL",
	KeyPrefix:        "COMPASS_STORAGE_KEY_PREFIX",
	MaxListSize:      "COMPASS_STORAGE_MAX_LIST_SIZE",
}

var cacheEnv = &cache.Env{
	Backend:       "COMPASS_CACHE_BACKEND",
	TTL:           "COMPASS_CACHE_TTL",
	PurgeInterval: "COMPASS_CACHE_PURGE_INTERVAL",
}

var synthesisEnv = &synthesis.Env{
	Provider:   "COMPASS_SYNTHESIS_PROVIDER",
	Model:      "COMPASS_SYNTHESIS_MODEL",
	APIKey:     "COMPASS_SYNTHESIS_API_KEY",
	BaseURL:    "COMPASS_SYNTHESIS_BASE_URL",
	Deployment: "COMPASS_SYNTHESIS_DEPLOYMENT",
	APIVersion: "COMPASS_SYNTHESIS_API_VERSION",
	AuthType:   "COMPASS_SYNTHESIS_AUTH_TYPE",
	MaxTokens:  "COMPASS_SYNTHESIS_MAX_TOKENS",
	Timeout:    "COMPASS_SYNTHESIS_TIMEOUT",
}

// Config is the root configuration for the Compass service.
type Config struct {
	Server          ServerConfig          `toml:"server"`
	Logging         LoggingConfig         `toml:"logging"`
	Database        database.Config       `toml:"database"`
	Storage         storage.Config        `toml:"storage"`
	Cache           cache.Config          `toml:"cache"`
	API             APIConfig             `toml:"api"`
	Auth            middleware.AuthConfig `toml:"auth"`
	Engine          EngineConfig          `toml:"engine"`
	Dispatch        DispatchConfig        `toml:"dispatch"`
	HITL            HITLConfig            `toml:"hitl"`
	Providers       ProvidersConfig       `toml:"providers"`
	Synthesis       synthesis.Config      `toml:"synthesis"`
	ShutdownTimeout string                `toml:"shutdown_timeout"`
	Version         string                `toml:"version"`
}

// Env returns the COMPASS_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvCompassEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration bounds the whole process shutdown, including
// workers still draining after the HTTP server has closed.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return duration(c.ShutdownTimeout)
}

// Load reads config.toml when present, merges the config.<env>.toml overlay
// selected by COMPASS_ENV, then finalizes every section.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// LoadDatabase resolves only the database section, for tools such as the
// migrator that run without a complete service configuration.
func LoadDatabase() (*database.Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Database.Finalize(databaseEnv); err != nil {
		return nil, fmt.Errorf("finalize config: database: %w", err)
	}
	return &cfg.Database, nil
}

func read() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}
	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sections.
func (c *Config) Merge(overlay *Config) {
	mergeString(&c.ShutdownTimeout, overlay.ShutdownTimeout)
	mergeString(&c.Version, overlay.Version)

	c.Server.Merge(&overlay.Server)
	c.Logging.Merge(&overlay.Logging)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Cache.Merge(&overlay.Cache)
	c.API.Merge(&overlay.API)
	c.Auth.Merge(&overlay.Auth)
	c.Engine.Merge(&overlay.Engine)
	c.Dispatch.Merge(&overlay.Dispatch)
	c.HITL.Merge(&overlay.HITL)
	c.Providers.Merge(&overlay.Providers)
	c.Synthesis.Merge(&overlay.Synthesis)
}

type section struct {
	name     string
	finalize func() error
}

func (c *Config) sections() []section {
	return []section{
		{"server", c.Server.Finalize},
		{"logging", c.Logging.Finalize},
		{"database", func() error { return c.Database.Finalize(databaseEnv) }},
		{"storage", func() error { return c.Storage.Finalize(storageEnv) }},
		{"cache", func() error { return c.Cache.Finalize(cacheEnv) }},
		{"api", c.API.Finalize},
		{"auth", func() error { return c.Auth.Finalize(authEnv) }},
		{"engine", c.Engine.Finalize},
		{"dispatch", c.Dispatch.Finalize},
		{"hitl", c.HITL.Finalize},
		{"providers", c.Providers.Finalize},
		{"synthesis", func() error { return c.Synthesis.Finalize(synthesisEnv) }},
	}
}

func (c *Config) finalize() error {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if v := os.Getenv(EnvCompassShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvCompassVersion); v != "" {
		c.Version = v
	}
	if err := positiveDuration("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}

	for _, s := range c.sections() {
		if err := s.finalize(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvCompassEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
