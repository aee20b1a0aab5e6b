package analysis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/storage"
)

// Cleanup prompt.
const (
	CleanupQuestion = "Delete past iteration?"
	CleanupDelete   = "DELETE"
	CleanupKeep     = "KEEP"
)

// CleanupInput is the input of an iteration_cleanup workflow.
type CleanupInput struct {
	PreviousWorkflowID string `json:"previous_workflow_id"`
}

// CleanupResult is the result of a completed iteration_cleanup workflow.
type CleanupResult struct {
	PreviousWorkflowID uuid.UUID `json:"previous_workflow_id"`
	Decision           string    `json:"decision"`
	Deleted            bool      `json:"deleted"`
}

type cleanupSteps struct {
	deps Deps
}

// IterationCleanup asks whether the archived result of an earlier workflow
// should be deleted and applies the answer.
func IterationCleanup(d Deps) *engine.Definition {
	s := &cleanupSteps{deps: d}
	return &engine.Definition{
		Type: TypeIterationCleanup,
		Steps: []engine.Step{
			{Name: "confirm", Run: s.confirm},
			{Name: "apply", Run: s.apply},
		},
	}
}

func (s *cleanupSteps) previous(ctx context.Context, sc *engine.StepContext) (*workflows.Instance, error) {
	var in CleanupInput
	if err := sc.DecodeInput(&in); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(in.PreviousWorkflowID)
	if err != nil {
		return nil, invalid("previous_workflow_id %q is not a valid id", in.PreviousWorkflowID)
	}
	if id == sc.WorkflowID {
		return nil, invalid("a workflow cannot clean up itself")
	}

	prev, err := s.deps.Workflows.Find(ctx, id)
	if errors.Is(err, workflows.ErrNotFound) {
		return nil, invalid("previous workflow %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if !prev.Status.Terminal() {
		return nil, invalid("previous workflow %s is still %s", id, prev.Status)
	}
	return prev, nil
}

func (s *cleanupSteps) confirm(ctx context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	prev, err := s.previous(ctx, sc)
	if err != nil {
		return engine.Outcome{}, err
	}

	if decision, ok := sc.Response(); ok {
		return engine.Next(CleanupResult{
			PreviousWorkflowID: prev.ID,
			Decision:           decision,
		}), nil
	}

	return engine.Suspend(hitl.Request{
		Question: CleanupQuestion,
		Options:  []string{CleanupDelete, CleanupKeep},
		Context: map[string]any{
			"previous_workflow_id": prev.ID,
			"type":                 prev.Type,
			"status":               prev.Status,
			"completed_at":         prev.UpdatedAt,
		},
	}), nil
}

func (s *cleanupSteps) apply(ctx context.Context, sc *engine.StepContext) (engine.Outcome, error) {
	var res CleanupResult
	if _, err := sc.Output("confirm", &res); err != nil {
		return engine.Outcome{}, err
	}

	if res.Decision != CleanupDelete {
		return engine.Next(res), nil
	}

	err := s.deps.Results.Delete(ctx, res.PreviousWorkflowID)
	switch {
	case err == nil:
		res.Deleted = true
	case errors.Is(err, storage.ErrNotFound):
	default:
		return engine.Outcome{}, err
	}
	return engine.Next(res), nil
}

func marshal(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
