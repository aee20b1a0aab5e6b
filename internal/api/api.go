// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JaimeStill/compass/pkg/middleware"
	"github.com/JaimeStill/compass/pkg/module"
)

// NewModule creates the API module with all domain handlers, the OpenAPI
// document, and middleware.
func NewModule(runtime *Runtime, domain *Domain) (*module.Module, error) {
	mux := http.NewServeMux()
	if err := registerRoutes(mux, domain, runtime); err != nil {
		return nil, err
	}

	m := module.New(runtime.Config.API.BasePath, mux)
	m.Use(middleware.RequestID())
	m.Use(middleware.Logger(runtime.Logger))
	m.Use(middleware.Recover(runtime.Logger))
	m.Use(middleware.CORS(&runtime.Config.API.CORS))

	return m, nil
}

// Authenticate requires bearer tokens on modules when auth is enabled.
func Authenticate(ctx context.Context, runtime *Runtime, modules ...*module.Module) error {
	auth := &runtime.Config.Auth
	if !auth.Enabled {
		return nil
	}

	verifier, err := middleware.NewOIDCVerifier(ctx, auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for _, m := range modules {
		m.Use(middleware.Auth(verifier, auth.PublicPaths, runtime.Logger))
	}
	return nil
}
