// Package infrastructure assembles the process-wide systems every domain
// package depends on: the lifecycle coordinator, logging, Postgres, blob
// storage and the provider response cache.
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/internal/schema"
	"github.com/JaimeStill/compass/pkg/cache"
	"github.com/JaimeStill/compass/pkg/database"
	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/storage"
)

// Infrastructure holds the core systems required by all domain modules.
// Cache is nil when caching is disabled. The database connection is always
// created but only started when a configured store needs it.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Database  database.System
	Storage   storage.System
	Cache     cache.Store

	usesDatabase bool
	cachePurge   time.Duration
}

// New builds every system from cfg without starting any of them.
func New(cfg *config.Config) (*Infrastructure, error) {
	logger := cfg.Logging.NewLogger(os.Stderr)

	db, err := database.New(&cfg.Database, logger, database.WithMigrator(schema.Up))
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		db.Connection().Close()
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle:    lifecycle.New(),
		Logger:       logger,
		Database:     db,
		Storage:      store,
		Cache:        cache.New(&cfg.Cache, db.Connection()),
		usesDatabase: cfg.Engine.Store == config.StorePostgres || cfg.Cache.Backend == cache.BackendPostgres,
		cachePurge:   cfg.Cache.PurgeIntervalDuration(),
	}, nil
}

// Scoped returns a copy sharing every system but logging under key=value.
func (i *Infrastructure) Scoped(key, value string) *Infrastructure {
	scoped := *i
	scoped.Logger = i.Logger.With(key, value)
	return &scoped
}

// UsesDatabase reports whether any configured store is backed by Postgres.
func (i *Infrastructure) UsesDatabase() bool {
	return i.usesDatabase
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if i.usesDatabase {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	} else {
		i.Logger.Info("no postgres-backed stores configured, database not started")
	}

	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}
	if i.Cache != nil {
		cache.StartPurge(i.Lifecycle, i.Cache, i.cachePurge, i.Logger)
	}
	return nil
}

// Check reports whether the process can serve traffic: startup has
// completed and, when used, the database answers a ping.
func (i *Infrastructure) Check(ctx context.Context) error {
	if !i.Lifecycle.Ready() {
		return fmt.Errorf("startup incomplete")
	}
	if i.usesDatabase {
		if err := i.Database.Check(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// Close releases connections opened by New. It is only needed when the
// systems were never started; otherwise shutdown hooks close them.
func (i *Infrastructure) Close() error {
	return i.Database.Connection().Close()
}
