package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/JaimeStill/compass/internal/prompts"
)

// Supported values for Config.Provider. Azure and Ollama run through the
// go-agents provider stack; the others call their vendor SDKs directly.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderAzure     = "azure"
	ProviderOllama    = "ollama"
	ProviderHeuristic = "heuristic"
)

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o",
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderGemini:    "gemini-2.0-flash",
	ProviderAzure:     "gpt-4o",
	ProviderOllama:    "llama3.1:8b",
}

// Azure authentication modes accepted in Config.AuthType.
var azureAuthTypes = []string{"api_key", "bearer"}

// Config selects and tunes the synthesis backend. Deployment, APIVersion
// and AuthType apply to the azure provider only.
type Config struct {
	Provider   string  `toml:"provider"`
	Model      string  `toml:"model"`
	APIKey     string  `toml:"api_key"`
	BaseURL    string  `toml:"base_url"`
	Deployment string  `toml:"deployment"`
	APIVersion string  `toml:"api_version"`
	AuthType   string  `toml:"auth_type"`
	MaxTokens  int     `toml:"max_tokens"`
	Timeout    string  `toml:"timeout"`
	Threshold  float64 `toml:"threshold"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Deployment string
	APIVersion string
	AuthType   string
	MaxTokens  string
	Timeout    string
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if env != nil {
		if err := c.loadEnv(env); err != nil {
			return err
		}
	}
	c.loadDefaults()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&c.Provider, overlay.Provider},
		{&c.Model, overlay.Model},
		{&c.APIKey, overlay.APIKey},
		{&c.BaseURL, overlay.BaseURL},
		{&c.Deployment, overlay.Deployment},
		{&c.APIVersion, overlay.APIVersion},
		{&c.AuthType, overlay.AuthType},
		{&c.Timeout, overlay.Timeout},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	if overlay.MaxTokens != 0 {
		c.MaxTokens = overlay.MaxTokens
	}
	if overlay.Threshold != 0 {
		c.Threshold = overlay.Threshold
	}
}

func (c *Config) loadDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderHeuristic
	}
	if c.Model == "" {
		c.Model = defaultModels[c.Provider]
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == "" {
		c.Timeout = "60s"
	}
	if c.Threshold == 0 {
		c.Threshold = 0.7
	}

	switch c.Provider {
	case ProviderOllama:
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
	case ProviderAzure:
		if c.Deployment == "" {
			c.Deployment = c.Model
		}
		if c.APIVersion == "" {
			c.APIVersion = "2024-10-21"
		}
		if c.AuthType == "" {
			c.AuthType = "api_key"
		}
	}
}

func (c *Config) loadEnv(env *Env) error {
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{env.Provider, &c.Provider},
		{env.Model, &c.Model},
		{env.APIKey, &c.APIKey},
		{env.BaseURL, &c.BaseURL},
		{env.Deployment, &c.Deployment},
		{env.APIVersion, &c.APIVersion},
		{env.AuthType, &c.AuthType},
		{env.Timeout, &c.Timeout},
	} {
		if f.name == "" {
			continue
		}
		if v := os.Getenv(f.name); v != "" {
			*f.dst = v
		}
	}

	if env.MaxTokens == "" {
		return nil
	}
	if v := os.Getenv(env.MaxTokens); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env.MaxTokens, err)
		}
		c.MaxTokens = n
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderHeuristic:
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("api_key required for %s", c.Provider)
		}
	case ProviderOllama:
	case ProviderAzure:
		if c.BaseURL == "" {
			return fmt.Errorf("base_url required for azure")
		}
		if c.APIKey == "" {
			return fmt.Errorf("api_key required for azure")
		}
		if !slices.Contains(azureAuthTypes, c.AuthType) {
			return fmt.Errorf("invalid auth_type %q", c.AuthType)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProvider, c.Provider)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1")
	}
	return nil
}

// New builds the Synthesizer selected by cfg.
func New(ctx context.Context, cfg *Config, source prompts.Source, logger *slog.Logger) (Synthesizer, error) {
	var model Model
	switch cfg.Provider {
	case ProviderHeuristic:
		logger.Warn("using heuristic synthesis, no language model configured")
		return Heuristic{Threshold: cfg.Threshold}, nil
	case ProviderOpenAI:
		model = newOpenAI(cfg)
	case ProviderAnthropic:
		model = newAnthropic(cfg)
	case ProviderGemini:
		m, err := newGemini(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		model = m
	case ProviderAzure, ProviderOllama:
		m, err := newAgent(cfg)
		if err != nil {
			return nil, fmt.Errorf("create %s agent: %w", cfg.Provider, err)
		}
		model = m
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}

	return NewService(model, source, cfg.TimeoutDuration(), logger), nil
}
