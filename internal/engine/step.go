package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/workflows"
)

type outcomeKind int

const (
	outcomeNext outcomeKind = iota
	outcomeFanOut
	outcomeSuspend
)

// Outcome tells the engine what a step produced.
type Outcome struct {
	kind   outcomeKind
	output any
	tasks  []dispatch.Task
	policy *dispatch.Policy
	prompt hitl.Request
}

// Next completes the step with output as its recorded result.
func Next(output any) Outcome {
	return Outcome{kind: outcomeNext, output: output}
}

// FanOut hands tasks to the dispatcher. The aggregated StepResult becomes
// the step's result.
func FanOut(tasks []dispatch.Task) Outcome {
	return Outcome{kind: outcomeFanOut, tasks: tasks}
}

// WithPolicy overrides the definition's aggregation policy for a FanOut.
func (o Outcome) WithPolicy(p dispatch.Policy) Outcome {
	o.policy = &p
	return o
}

// Suspend parks the workflow on a human prompt. The step runs again once
// the prompt is answered and can read the answer from StepContext.Response.
func Suspend(req hitl.Request) Outcome {
	return Outcome{kind: outcomeSuspend, prompt: req}
}

// StepContext is the view of a workflow instance given to a step handler.
type StepContext struct {
	WorkflowID uuid.UUID
	Type       string
	Step       string
	Index      int
	Attempt    int

	input      json.RawMessage
	checkpoint *workflows.Checkpoint
}

// DecodeInput unmarshals the workflow input. Malformed input is a
// validation failure.
func (sc *StepContext) DecodeInput(v any) error {
	if len(sc.input) == 0 {
		return fmt.Errorf("%w: input is empty", ErrValidation)
	}
	if err := json.Unmarshal(sc.input, v); err != nil {
		return fmt.Errorf("%w: decode input: %v", ErrValidation, err)
	}
	return nil
}

// Output decodes the recorded result of an earlier step into v. It reports
// false when that step recorded nothing.
func (sc *StepContext) Output(step string, v any) (bool, error) {
	data, ok := sc.checkpoint.Output(step)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s output: %w", step, err)
	}
	return true, nil
}

// Response returns the human answer recorded for the current step.
func (sc *StepContext) Response() (string, bool) {
	return sc.checkpoint.Response(sc.Step)
}

// Handler runs one step.
type Handler func(ctx context.Context, sc *StepContext) (Outcome, error)

// Step is a named unit of work within a definition.
type Step struct {
	Name string
	Run  Handler
}

// Definition describes a workflow type as an ordered list of steps.
type Definition struct {
	Type  string
	Steps []Step
	// Policy aggregates FanOut results unless the outcome overrides it.
	Policy dispatch.Policy
	// RoundTimeout bounds each dispatch round. Zero uses the engine default.
	RoundTimeout time.Duration
}

func (d *Definition) validate() error {
	if d.Type == "" {
		return fmt.Errorf("definition type required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %s has no steps", d.Type)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, s := range d.Steps {
		if s.Name == "" || s.Run == nil {
			return fmt.Errorf("definition %s has an incomplete step", d.Type)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("definition %s repeats step %s", d.Type, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}
