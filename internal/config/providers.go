package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/JaimeStill/compass/internal/providers"
	"github.com/JaimeStill/compass/pkg/formatting"
)

// ProvidersConfig lists the jurisdiction search providers.
//
// COMPASS_PROVIDERS replaces the configured list with comma-separated
// id|jurisdiction|url entries.
type ProvidersConfig struct {
	MaxResults      int                  `toml:"max_results"`
	Threshold       float64              `toml:"similarity_threshold"`
	MaxResponseSize string               `toml:"max_response_size"`
	Endpoints       []providers.Provider `toml:"endpoints"`
}

// MaxResponseBytes parses MaxResponseSize. Finalize has already validated it.
func (c *ProvidersConfig) MaxResponseBytes() int64 {
	n, _ := formatting.ParseBytes(c.MaxResponseSize)
	return n
}

func (c *ProvidersConfig) Finalize() error {
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.MaxResponseSize == "" {
		c.MaxResponseSize = "8MB"
	}

	if v := os.Getenv("COMPASS_PROVIDERS"); v != "" {
		endpoints, err := parseEndpoints(v)
		if err != nil {
			return err
		}
		c.Endpoints = endpoints
	}
	if err := envInt("COMPASS_PROVIDERS_MAX_RESULTS", &c.MaxResults); err != nil {
		return err
	}
	if v := os.Getenv("COMPASS_PROVIDERS_MAX_RESPONSE_SIZE"); v != "" {
		c.MaxResponseSize = v
	}

	if c.MaxResults < 1 {
		return fmt.Errorf("max_results must be at least 1")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("similarity_threshold must be within [0, 1]")
	}
	if n, err := formatting.ParseBytes(c.MaxResponseSize); err != nil {
		return fmt.Errorf("max_response_size: %w", err)
	} else if n < 1 {
		return fmt.Errorf("max_response_size must be positive")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one provider endpoint required")
	}
	return nil
}

func (c *ProvidersConfig) Merge(overlay *ProvidersConfig) {
	if overlay.MaxResults != 0 {
		c.MaxResults = overlay.MaxResults
	}
	if overlay.Threshold != 0 {
		c.Threshold = overlay.Threshold
	}
	if overlay.MaxResponseSize != "" {
		c.MaxResponseSize = overlay.MaxResponseSize
	}
	if overlay.Endpoints != nil {
		c.Endpoints = overlay.Endpoints
	}
}

func parseEndpoints(v string) ([]providers.Provider, error) {
	var out []providers.Provider
	for entry := range strings.SplitSeq(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid provider entry %q: want id|jurisdiction|url", entry)
		}
		out = append(out, providers.Provider{
			ID:           parts[0],
			Jurisdiction: parts[1],
			URL:          parts[2],
		})
	}
	return out, nil
}
