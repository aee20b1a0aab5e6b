package hitl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "hitl_prompts", "p").
	Project("id", "ID").
	Project("workflow_id", "WorkflowID").
	Project("step", "Step").
	Project("question", "Question").
	Project("options", "Options").
	Project("context", "Context").
	Project("status", "Status").
	Project("response", "Response").
	Project("created_at", "CreatedAt").
	Project("expires_at", "ExpiresAt").
	Project("answered_at", "AnsweredAt")

const returningColumns = `id, workflow_id, step, question, options, context, status, response, created_at, expires_at, answered_at`

type repo struct {
	db *sql.DB
}

// NewRepository creates a Store backed by the hitl_prompts table.
// A partial unique index on (workflow_id) WHERE status = 'pending'
// enforces a single pending prompt per workflow.
func NewRepository(db *sql.DB) Store {
	return &repo{db: db}
}

func scanPrompt(s repository.Scanner) (Prompt, error) {
	var (
		p       Prompt
		options []byte
		ctxData []byte
	)
	err := s.Scan(
		&p.ID,
		&p.WorkflowID,
		&p.Step,
		&p.Question,
		&options,
		&ctxData,
		&p.Status,
		&p.Response,
		&p.CreatedAt,
		&p.ExpiresAt,
		&p.AnsweredAt,
	)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return p, fmt.Errorf("decode options: %w", err)
	}
	if len(ctxData) > 0 {
		if err := json.Unmarshal(ctxData, &p.Context); err != nil {
			return p, fmt.Errorf("decode context: %w", err)
		}
	}
	return p, nil
}

func (r *repo) Create(ctx context.Context, p Prompt) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	promptCtx, err := json.Marshal(p.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	q := `
		INSERT INTO hitl_prompts(id, workflow_id, step, question, options, context, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, q,
		p.ID, p.WorkflowID, p.Step, p.Question,
		options, promptCtx, p.Status, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return repository.MapError(err, ErrUnknownPrompt, ErrPromptAlreadyPending)
	}
	return nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrUnknownPrompt, ErrPromptAlreadyPending)
	}
	return &p, nil
}

func (r *repo) Pending(ctx context.Context, workflowID uuid.UUID) (*Prompt, error) {
	pending := string(StatusPending)
	q, args := query.
		NewBuilder(projection).
		WhereEquals("WorkflowID", workflowID).
		WhereEquals("Status", &pending).
		BuildSingleOrNull()

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrUnknownPrompt, ErrPromptAlreadyPending)
	}
	return &p, nil
}

func (r *repo) Answer(ctx context.Context, id uuid.UUID, response string, at time.Time) error {
	q := `
		UPDATE hitl_prompts
		SET status = 'answered', response = $2, answered_at = $3
		WHERE id = $1 AND status = 'pending'`

	err := repository.ExecExpectOne(ctx, r.db, q, id, response, at)
	return r.closedOr(ctx, id, err)
}

func (r *repo) Expire(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE hitl_prompts SET status = 'expired' WHERE id = $1 AND status = 'pending'`

	err := repository.ExecExpectOne(ctx, r.db, q, id)
	return r.closedOr(ctx, id, err)
}

// closedOr distinguishes a missing prompt from one that is no longer pending
// after a conditional update affected no rows.
func (r *repo) closedOr(ctx context.Context, id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, ferr := r.Find(ctx, id); ferr != nil {
		return ferr
	}
	return ErrPromptClosed
}

func (r *repo) ExpireDue(ctx context.Context, now time.Time) ([]Prompt, error) {
	q := `
		UPDATE hitl_prompts
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING ` + returningColumns

	prompts, err := repository.QueryMany(ctx, r.db, q, []any{now}, scanPrompt)
	if err != nil {
		return nil, fmt.Errorf("expire prompts: %w", err)
	}
	return prompts, nil
}
