package main

import (
	"context"
	"fmt"
	"time"

	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/internal/infrastructure"
)

// Server owns the process: infrastructure, the mounted modules and the
// HTTP listener, all tied to one lifecycle coordinator.
type Server struct {
	infra           *infrastructure.Infrastructure
	modules         *Modules
	http            *httpServer
	shutdownTimeout time.Duration
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	modules, err := NewModules(ctx, infra, cfg)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("modules: %w", err)
	}

	router := buildRouter(infra)
	modules.Mount(router)

	infra.Logger.Info(
		"server initialized",
		"addr", cfg.Server.Addr(),
		"version", cfg.Version,
		"store", cfg.Engine.Store,
		"base_path", cfg.API.BasePath,
	)

	return &Server{
		infra:           infra,
		modules:         modules,
		http:            newHTTPServer(&cfg.Server, router, infra.Logger),
		shutdownTimeout: cfg.ShutdownTimeoutDuration(),
	}, nil
}

// Run starts every subsystem, blocks until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		s.Shutdown(s.shutdownTimeout)
		return err
	}

	<-ctx.Done()
	return s.Shutdown(s.shutdownTimeout)
}

func (s *Server) Start() error {
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}

	s.modules.Start()

	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	go func() {
		if err := s.infra.Lifecycle.WaitForStartup(); err != nil {
			s.infra.Logger.Error("startup incomplete, service not ready", "error", err)
			return
		}
		s.infra.Logger.Info("all subsystems ready")
	}()

	return nil
}

func (s *Server) Shutdown(timeout time.Duration) error {
	s.infra.Logger.Info("initiating shutdown", "timeout", timeout)
	return s.infra.Lifecycle.Shutdown(timeout)
}
