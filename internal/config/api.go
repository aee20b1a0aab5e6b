package config

import (
	"fmt"
	"os"

	"github.com/JaimeStill/compass/pkg/middleware"
	"github.com/JaimeStill/compass/pkg/module"
	"github.com/JaimeStill/compass/pkg/openapi"
	"github.com/JaimeStill/compass/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "COMPASS_CORS_ENABLED",
	Origins:          "COMPASS_CORS_ORIGINS",
	AllowedMethods:   "COMPASS_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "COMPASS_CORS_ALLOWED_HEADERS",
	ExposedHeaders:   "COMPASS_CORS_EXPOSED_HEADERS",
	AllowCredentials: "COMPASS_CORS_ALLOW_CREDENTIALS",
	MaxAge:           "COMPASS_CORS_MAX_AGE",
}

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "COMPASS_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "COMPASS_PAGINATION_MAX_PAGE_SIZE",
}

var openAPIEnv = &openapi.ConfigEnv{
	Title:       "COMPASS_OPENAPI_TITLE",
	Description: "COMPASS_OPENAPI_DESCRIPTION",
	ServerURL:   "COMPASS_OPENAPI_SERVER_URL",
	Serve:       "COMPASS_OPENAPI_SERVE",
}

var authEnv = &middleware.AuthEnv{
	Enabled:  "COMPASS_AUTH_ENABLED",
	Issuer:   "COMPASS_AUTH_ISSUER",
	ClientID: "COMPASS_AUTH_CLIENT_ID",
}

// APIConfig holds API routing, CORS, pagination, and OpenAPI document settings.
type APIConfig struct {
	BasePath   string                `toml:"base_path"`
	MCPPath    string                `toml:"mcp_path"`
	CORS       middleware.CORSConfig `toml:"cors"`
	Pagination pagination.Config     `toml:"pagination"`
	OpenAPI    openapi.Config        `toml:"openapi"`
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := module.ValidatePrefix(c.BasePath); err != nil {
		return fmt.Errorf("base_path: %w", err)
	}
	if err := module.ValidatePrefix(c.MCPPath); err != nil {
		return fmt.Errorf("mcp_path: %w", err)
	}
	if c.BasePath == c.MCPPath {
		return fmt.Errorf("base_path and mcp_path must differ: %s", c.BasePath)
	}

	if err := c.CORS.Finalize(corsEnv); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	if err := c.OpenAPI.Finalize(openAPIEnv); err != nil {
		return fmt.Errorf("openapi: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}
	if overlay.MCPPath != "" {
		c.MCPPath = overlay.MCPPath
	}

	c.CORS.Merge(&overlay.CORS)
	c.Pagination.Merge(&overlay.Pagination)
	c.OpenAPI.Merge(&overlay.OpenAPI)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MCPPath == "" {
		c.MCPPath = "/mcp"
	}
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv("COMPASS_API_BASE_PATH"); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv("COMPASS_API_MCP_PATH"); v != "" {
		c.MCPPath = v
	}
}
