package prompts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

// Repository is the Postgres Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a Store backed by the prompts table.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Prompt], error) {
	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Name", "Description")
	filters.Apply(qb)
	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	result, err := repository.Page(ctx, r.db, qb, page, scanPrompt)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return result, nil
}

func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)
	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *Repository) Active(ctx context.Context, stage Stage) (*Prompt, error) {
	q, args := query.
		NewBuilder(projection).
		WhereEquals("Stage", string(stage)).
		WhereEquals("Active", true).
		BuildSingleOrNull()

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active %s prompt: %w", stage, err)
	}
	return &p, nil
}

func (r *Repository) Create(ctx context.Context, cmd Command) (*Prompt, error) {
	q := `
		INSERT INTO prompts (id, name, stage, instructions, description)
		VALUES ($1, $2, $3, $4, $5)
		` + returning

	args := []any{uuid.New(), cmd.Name, string(cmd.Stage), cmd.Instructions, cmd.Description}
	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, cmd Command) (*Prompt, error) {
	q := `
		UPDATE prompts
		SET name = $1, stage = $2, instructions = $3, description = $4,
		    active = active AND stage = $2, updated_at = NOW()
		WHERE id = $5
		` + returning

	args := []any{cmd.Name, string(cmd.Stage), cmd.Instructions, cmd.Description, id}
	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	err := repository.ExecExpectOne(ctx, r.db, "DELETE FROM prompts WHERE id = $1", id)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

// SetActive serializes activations per stage with a transaction-scoped
// advisory lock so two concurrent activations cannot both pass the
// deactivate step.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Prompt, error) {
	p, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Prompt, error) {
		var stage string
		if err := tx.QueryRowContext(ctx, "SELECT stage FROM prompts WHERE id = $1", id).Scan(&stage); err != nil {
			return Prompt{}, err
		}

		if active {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext('prompts:' || $1))", stage); err != nil {
				return Prompt{}, fmt.Errorf("lock %s: %w", stage, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE prompts SET active = false, updated_at = NOW()
				WHERE stage = $1 AND active AND id <> $2`,
				stage, id,
			); err != nil {
				return Prompt{}, fmt.Errorf("deactivate %s: %w", stage, err)
			}
		}

		q := "UPDATE prompts SET active = $1, updated_at = NOW() WHERE id = $2 " + returning
		return repository.QueryOne(ctx, tx, q, []any{active, id}, scanPrompt)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}
