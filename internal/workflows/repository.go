package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// NewRepository creates a Store backed by the workflows table.
func NewRepository(db *sql.DB, logger *slog.Logger, pagination pagination.Config) Store {
	return &repo{
		db:         db,
		logger:     logger.With("system", "workflows"),
		pagination: pagination,
	}
}

func (r *repo) Create(ctx context.Context, inst *Instance) error {
	checkpoint, err := json.Marshal(inst.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	q := `
		INSERT INTO workflows(id, type, status, current_step, total_steps, input, checkpoint, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, q,
		inst.ID, inst.Type, inst.Status, inst.CurrentStep, inst.TotalSteps,
		nullable(inst.Input), checkpoint, inst.Attempts, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Instance, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	inst, err := repository.QueryOne(ctx, r.db, q, args, scanInstance)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &inst, nil
}

func (r *repo) Save(ctx context.Context, inst *Instance) error {
	checkpoint, err := json.Marshal(inst.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	inst.UpdatedAt = time.Now().UTC()

	q := `
		UPDATE workflows
		SET status = $2, current_step = $3, total_steps = $4, checkpoint = $5,
		    result = $6, error_kind = $7, error = $8, attempts = $9, updated_at = $10
		WHERE id = $1`

	err = repository.ExecExpectOne(ctx, r.db, q,
		inst.ID, inst.Status, inst.CurrentStep, inst.TotalSteps, checkpoint,
		nullable(inst.Result), nullString(inst.ErrorKind), nullString(inst.Error),
		inst.Attempts, inst.UpdatedAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Instance], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Type", "Error")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	result, err := repository.Page(ctx, r.db, qb, page, scanInstance)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return result, nil
}

func (r *repo) Open(ctx context.Context) ([]Instance, error) {
	open := []any{string(StatusCreated), string(StatusRunning), string(StatusAwaitingHITL)}
	q, args := query.
		NewBuilder(projection, query.SortField{Field: "CreatedAt"}).
		WhereIn("Status", open).
		Build()

	items, err := repository.QueryMany(ctx, r.db, q, args, scanInstance)
	if err != nil {
		return nil, fmt.Errorf("query open workflows: %w", err)
	}
	return items, nil
}
