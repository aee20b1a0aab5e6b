package prompts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
)

// System validates prompt changes before they reach the Store and resolves
// the effective instructions for each stage. It satisfies Source.
type System struct {
	store      Store
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates the prompt system over store.
func New(store Store, logger *slog.Logger, pagination pagination.Config) *System {
	return &System{
		store:      store,
		logger:     logger.With("system", "prompts"),
		pagination: pagination,
	}
}

// Instructions returns the stage's active override, or the built-in text
// when no override is active.
func (s *System) Instructions(ctx context.Context, stage Stage) (string, error) {
	if !stage.Valid() {
		return "", ErrInvalidStage
	}

	p, err := s.store.Active(ctx, stage)
	if err != nil {
		return "", fmt.Errorf("load %s instructions: %w", stage, err)
	}
	if p == nil {
		return DefaultInstructions(stage)
	}
	return p.Instructions, nil
}

// Spec returns the fixed output specification for stage.
func (s *System) Spec(_ context.Context, stage Stage) (string, error) {
	return Spec(stage)
}

func (s *System) Handler() *Handler {
	return NewHandler(s, s.logger, s.pagination)
}

func (s *System) List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Prompt], error) {
	page.Normalize(s.pagination)
	return s.store.List(ctx, page, filters)
}

func (s *System) Find(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	return s.store.Find(ctx, id)
}

func (s *System) Create(ctx context.Context, cmd Command) (*Prompt, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	p, err := s.store.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt created", "id", p.ID, "name", p.Name, "stage", p.Stage)
	return p, nil
}

func (s *System) Update(ctx context.Context, id uuid.UUID, cmd Command) (*Prompt, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	p, err := s.store.Update(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt updated", "id", p.ID, "name", p.Name, "stage", p.Stage, "active", p.Active)
	return p, nil
}

func (s *System) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("prompt deleted", "id", id)
	return nil
}

// Activate makes id the override for its stage.
func (s *System) Activate(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate returns id's stage to its built-in instructions if id was the
// active override.
func (s *System) Deactivate(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	return s.setActive(ctx, id, false)
}

func (s *System) setActive(ctx context.Context, id uuid.UUID, active bool) (*Prompt, error) {
	p, err := s.store.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt activation changed", "id", p.ID, "stage", p.Stage, "active", active)
	return p, nil
}
