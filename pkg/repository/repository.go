// Package repository holds the database/sql plumbing shared by the Postgres
// stores: typed row scanning, transactions and paged listing.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/query"
)

// maxTxAttempts bounds WithTx retries after serialization failures.
const maxTxAttempts = 3

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner is a single result row.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc reads one T from a row. Each store defines its own.
type ScanFunc[T any] func(Scanner) (T, error)

// WithTx runs fn in a transaction and commits when it returns nil. fn is
// run again, in a fresh transaction, when Postgres aborts it with a
// serialization failure or deadlock, so it must not have side effects
// outside tx.
func WithTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		result, err = runTx(ctx, db, fn)
		if err == nil || !Retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return result, err
}

func runTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer tx.Rollback()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	return result, nil
}

// QueryOne scans the first row. No row yields sql.ErrNoRows.
func QueryOne[T any](ctx context.Context, q Querier, query string, args []any, scan ScanFunc[T]) (T, error) {
	return scan(q.QueryRowContext(ctx, query, args...))
}

// QueryMany scans every row. No rows yields an empty, non-nil slice.
func QueryMany[T any](ctx context.Context, q Querier, query string, args []any, scan ScanFunc[T]) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

// ExecExpectOne runs a statement that must touch exactly one row and
// returns sql.ErrNoRows when it touched none.
func ExecExpectOne(ctx context.Context, e Executor, query string, args ...any) error {
	result, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Page counts the rows qb matches and scans the requested page of them.
// req must be normalized. The page query is skipped when the page starts
// past the last row.
func Page[T any](
	ctx context.Context,
	q Querier,
	qb *query.Builder,
	req pagination.PageRequest,
	scan ScanFunc[T],
) (*pagination.PageResult[T], error) {
	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := q.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	var items []T
	if total > req.Offset() {
		pageSQL, pageArgs := qb.BuildPage(req.Page, req.PageSize)
		var err error
		if items, err = QueryMany(ctx, q, pageSQL, pageArgs, scan); err != nil {
			return nil, fmt.Errorf("page: %w", err)
		}
	}

	result := pagination.NewPageResult(items, total, req.Page, req.PageSize)
	return &result, nil
}
