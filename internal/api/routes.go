package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JaimeStill/compass/internal/archive"
	"github.com/JaimeStill/compass/internal/providers"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/openapi"
	"github.com/JaimeStill/compass/pkg/routes"
)

const progressHeartbeat = 15 * time.Second

func registerRoutes(mux *http.ServeMux, domain *Domain, runtime *Runtime) error {
	groups := []routes.Group{
		workflows.NewHandler(domain.Engine, runtime.Logger, runtime.Pagination, progressHeartbeat).Routes(),
		providers.NewHandler(domain.Providers, runtime.Logger).Routes(),
		archive.NewHandler(domain.Archive, runtime.Logger, runtime.Config.Storage.MaxListSize).Routes(),
		domain.Prompts.Handler().Routes(),
	}
	routes.Register(mux, groups...)

	if !runtime.Config.API.OpenAPI.Enabled() {
		return nil
	}
	spec, err := buildSpec(runtime, groups)
	if err != nil {
		return err
	}
	mux.HandleFunc("GET /openapi.json", openapi.ServeSpec(spec))
	return nil
}

func buildSpec(runtime *Runtime, groups []routes.Group) ([]byte, error) {
	cfg := runtime.Config
	spec := openapi.NewSpec(&cfg.API.OpenAPI, cfg.Version)
	spec.AddServer(cfg.API.OpenAPI.Server(cfg.API.BasePath))
	if cfg.Auth.Enabled {
		spec.RequireBearer(cfg.Auth.Issuer)
	}
	routes.Document(spec, groups...)

	data, err := openapi.MarshalJSON(spec)
	if err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	return data, nil
}
