// Package database owns the Postgres connection pool backing the workflow,
// prompt and cache stores, and ties its readiness to the lifecycle.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/compass/pkg/backoff"
	"github.com/JaimeStill/compass/pkg/lifecycle"
)

// System manages database connections and lifecycle coordination.
type System interface {
	Connection() *sql.DB
	// Start registers startup and shutdown hooks with the coordinator.
	Start(lc *lifecycle.Coordinator) error
	// Ready reports whether startup reached the database and, when
	// configured, applied migrations.
	Ready() bool
	// Check pings the database, returning ErrNotReady before startup succeeds.
	Check(ctx context.Context) error
}

// Migrator applies schema migrations to the database at url.
type Migrator func(url string) error

type Option func(*database)

// WithMigrator runs m during startup when the config enables migrate_on_start.
func WithMigrator(m Migrator) Option {
	return func(d *database) { d.migrator = m }
}

// WithRetryBackoff sets the delay between startup connection attempts.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(d *database) { d.retry = s }
}

type database struct {
	conn        *sql.DB
	logger      *slog.Logger
	connTimeout time.Duration
	attempts    int
	retry       backoff.Strategy
	url         string
	migrate     bool
	migrator    Migrator
	ready       atomic.Bool
}

// New opens the pool and applies its limits. No connection is made until
// Start runs.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (System, error) {
	db, err := sql.Open("pgx", cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	d := &database{
		conn:        db,
		logger:      logger.With("system", "database"),
		connTimeout: cfg.ConnTimeoutDuration(),
		attempts:    max(cfg.ConnectAttempts, 1),
		retry:       backoff.NewExponential(time.Second, 15*time.Second),
		url:         cfg.URL(),
		migrate:     cfg.MigrateOnStart,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) Ready() bool {
	return d.ready.Load()
}

func (d *database) Check(ctx context.Context) error {
	if !d.ready.Load() {
		return ErrNotReady
	}
	return d.ping(ctx)
}

func (d *database) Start(lc *lifecycle.Coordinator) error {
	if d.migrate && d.migrator == nil {
		return ErrNoMigrator
	}

	d.logger.Info("starting database connection", "attempts", d.attempts)

	lc.OnStartup("database", func(ctx context.Context) error {
		if err := d.connect(ctx); err != nil {
			return err
		}

		if d.migrate {
			if err := d.migrator(d.url); err != nil {
				d.logger.Error("database migration failed", "error", err)
				return fmt.Errorf("migrate: %w", err)
			}
			d.logger.Info("database migrations applied")
		}

		d.ready.Store(true)
		d.logger.Info("database connection established")
		return nil
	})

	lc.OnShutdown("database", func() {
		d.ready.Store(false)
		if err := d.conn.Close(); err != nil {
			d.logger.Error("database close failed", "error", err)
			return
		}
		d.logger.Info("database connection closed")
	})

	return nil
}

func (d *database) connect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = d.ping(ctx); err == nil {
			return nil
		}
		d.logger.Warn("database ping failed", "attempt", attempt, "error", err)

		if attempt < d.attempts {
			if werr := backoff.Wait(ctx, d.retry, attempt); werr != nil {
				return fmt.Errorf("ping: %w", werr)
			}
		}
	}
	return fmt.Errorf("ping after %d attempts: %w", d.attempts, err)
}

func (d *database) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.connTimeout)
	defer cancel()
	return d.conn.PingContext(ctx)
}
