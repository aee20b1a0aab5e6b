package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/JaimeStill/compass/internal/api"
	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/internal/infrastructure"
	"github.com/JaimeStill/compass/internal/mcp"
	"github.com/JaimeStill/compass/pkg/middleware"
	"github.com/JaimeStill/compass/pkg/module"
)

type Modules struct {
	API    *module.Module
	MCP    *module.Module
	domain *api.Domain
	rt     *api.Runtime
}

func NewModules(ctx context.Context, infra *infrastructure.Infrastructure, cfg *config.Config) (*Modules, error) {
	runtime := api.NewRuntime(cfg, infra)

	domain, err := api.NewDomain(ctx, runtime)
	if err != nil {
		return nil, err
	}

	apiModule, err := api.NewModule(runtime, domain)
	if err != nil {
		return nil, err
	}

	mcpModule := mcp.New(domain.Engine, infra.Logger).NewModule(cfg.API.MCPPath)
	mcpModule.Use(middleware.RequestID())
	mcpModule.Use(middleware.Logger(infra.Logger))
	mcpModule.Use(middleware.Recover(infra.Logger))

	if err := api.Authenticate(ctx, runtime, apiModule, mcpModule); err != nil {
		return nil, err
	}

	return &Modules{
		API:    apiModule,
		MCP:    mcpModule,
		domain: domain,
		rt:     runtime,
	}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API)
	router.Mount(m.MCP)
}

func (m *Modules) Start() {
	m.domain.Start(m.rt)
}

func buildRouter(infra *infrastructure.Infrastructure) *module.Router {
	router := module.NewRouter()

	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	router.HandleNative("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := infra.Check(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	return router
}
