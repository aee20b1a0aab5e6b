package api

import (
	"context"
	"fmt"

	"github.com/JaimeStill/compass/internal/analysis"
	"github.com/JaimeStill/compass/internal/archive"
	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/internal/prompts"
	"github.com/JaimeStill/compass/internal/providers"
	"github.com/JaimeStill/compass/internal/synthesis"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/backoff"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Engine    *engine.Engine
	Gate      *hitl.Gate
	Publisher *progress.Publisher
	Providers *providers.Client
	Prompts   *prompts.System
	Archive   *archive.Archive
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(ctx context.Context, runtime *Runtime) (*Domain, error) {
	cfg := runtime.Config
	db := runtime.Database.Connection()

	var (
		store         workflows.Store
		hitlStore     hitl.Store
		overrideStore prompts.Store
	)
	switch cfg.Engine.Store {
	case config.StoreMemory:
		store = workflows.NewMemory()
		hitlStore = hitl.NewMemory()
		overrideStore = prompts.NewMemory()
	default:
		store = workflows.NewRepository(db, runtime.Logger, runtime.Pagination)
		hitlStore = hitl.NewRepository(db)
		overrideStore = prompts.NewRepository(db)
	}

	promptsSystem := prompts.New(overrideStore, runtime.Logger, runtime.Pagination)

	providerOpts := []providers.Option{
		providers.WithSearchDefaults(cfg.Providers.MaxResults, cfg.Providers.Threshold),
		providers.WithMaxBody(cfg.Providers.MaxResponseBytes()),
	}
	if runtime.Cache != nil {
		providerOpts = append(providerOpts, providers.WithCache(runtime.Cache, cfg.Cache.TTLDuration()))
	}
	client, err := providers.New(cfg.Providers.Endpoints, runtime.Logger, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	synth, err := synthesis.New(ctx, &cfg.Synthesis, promptsSystem, runtime.Logger)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	arch := archive.New(runtime.Storage, runtime.Logger)
	publisher := progress.New(runtime.Logger)
	gate := hitl.New(hitlStore, publisher, runtime.Logger, hitl.WithExpiry(cfg.HITL.ExpiryDuration()))
	dispatcher := dispatch.New(client, runtime.Logger,
		dispatch.WithMaxConcurrency(cfg.Dispatch.MaxConcurrency),
	)

	registry, err := engine.NewRegistry(analysis.Definitions(analysis.Deps{
		Providers:   client,
		Synthesizer: synth,
		Results:     arch,
		Workflows:   store,
		Search: analysis.Search{
			MaxResults:   cfg.Providers.MaxResults,
			Threshold:    cfg.Providers.Threshold,
			TaskTimeout:  cfg.Dispatch.TaskTimeoutDuration(),
			Retries:      cfg.Dispatch.Retries,
			RoundTimeout: cfg.Dispatch.RoundTimeoutDuration(),
			Policy:       cfg.Dispatch.ParsedPolicy(),
		},
	})...)
	if err != nil {
		return nil, err
	}

	eng := engine.New(registry, store, gate, dispatcher, publisher, runtime.Logger,
		engine.WithAsync(runtime.Lifecycle),
		engine.WithMaxStepAttempts(cfg.Engine.MaxStepAttempts),
		engine.WithBackoff(backoff.NewExponential(
			cfg.Engine.BackoffInitialDuration(),
			cfg.Engine.BackoffMaxDuration(),
		)),
		engine.WithRoundTimeout(cfg.Dispatch.RoundTimeoutDuration()),
		engine.WithArchive(arch),
	)

	return &Domain{
		Engine:    eng,
		Gate:      gate,
		Publisher: publisher,
		Providers: client,
		Prompts:   promptsSystem,
		Archive:   arch,
	}, nil
}

// Start registers the prompt sweeper and, once every subsystem is up,
// resumes workflows left open by a previous process.
func (d *Domain) Start(runtime *Runtime) {
	lc := runtime.Lifecycle
	cfg := runtime.Config

	d.Gate.Start(lc, cfg.HITL.SweepIntervalDuration())

	if !cfg.Engine.RecoverOnStart() {
		return
	}
	lc.Go("engine.recover", func(ctx context.Context) {
		if err := lc.WaitForStartup(); err != nil {
			runtime.Logger.Warn("workflow recovery skipped, startup failed", "error", err)
			return
		}
		n, err := d.Engine.Recover(ctx)
		if err != nil {
			if ctx.Err() == nil {
				runtime.Logger.Error("workflow recovery failed", "error", err)
			}
			return
		}
		runtime.Logger.Info("workflow recovery complete", "resumed", n)
	})
}
