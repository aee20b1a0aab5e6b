package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JaimeStill/compass/pkg/repository"
)

type postgres struct {
	db *sql.DB
}

// NewPostgres creates a Store backed by the cache_entries table.
func NewPostgres(db *sql.DB) Store {
	return &postgres{db: db}
}

func scanValue(s repository.Scanner) ([]byte, error) {
	var v []byte
	err := s.Scan(&v)
	return v, err
}

func (p *postgres) Get(ctx context.Context, key string) ([]byte, error) {
	q := `SELECT value FROM cache_entries WHERE key = $1 AND expires_at > now()`

	v, err := repository.QueryOne(ctx, p.db, q, []any{key}, scanValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return v, nil
}

func (p *postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	q := `
		INSERT INTO cache_entries(key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	if _, err := p.db.ExecContext(ctx, q, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

func (p *postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (p *postgres) Purge(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
