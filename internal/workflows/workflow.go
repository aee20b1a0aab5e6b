// Package workflows implements the workflow instance domain: the durable
// record of each workflow's progress, its storage, and its HTTP surface.
package workflows

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusCreated      Status = "created"
	StatusRunning      Status = "running"
	StatusAwaitingHITL Status = "awaiting_hitl"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the instance should be driven forward by the engine.
func (s Status) Active() bool {
	return s == StatusCreated || s == StatusRunning
}

// ErrorKind classifies why a workflow failed.
type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"
	KindInsufficientResults ErrorKind = "InsufficientResults"
	KindProviderError       ErrorKind = "ProviderError"
	KindHITLTimeout         ErrorKind = "HITLTimeout"
	KindCancelled           ErrorKind = "Cancelled"
	KindFatal               ErrorKind = "Fatal"
)

// Checkpoint is the step-local state persisted between steps. It is opaque to
// API clients.
type Checkpoint struct {
	Steps     map[string]json.RawMessage `json:"steps,omitempty"`
	Responses map[string]string          `json:"responses,omitempty"`
	PromptID  *uuid.UUID                 `json:"prompt_id,omitempty"`
}

// Output returns the stored result of step, if any.
func (c *Checkpoint) Output(step string) (json.RawMessage, bool) {
	v, ok := c.Steps[step]
	return v, ok
}

// Record stores step's result.
func (c *Checkpoint) Record(step string, data json.RawMessage) {
	if c.Steps == nil {
		c.Steps = make(map[string]json.RawMessage)
	}
	c.Steps[step] = data
}

// Respond stores a human response for step and clears the pending prompt.
func (c *Checkpoint) Respond(step, response string) {
	if c.Responses == nil {
		c.Responses = make(map[string]string)
	}
	c.Responses[step] = response
	c.PromptID = nil
}

// Response returns the human response recorded for step.
func (c *Checkpoint) Response(step string) (string, bool) {
	v, ok := c.Responses[step]
	return v, ok
}

// Instance is one execution of a workflow definition.
type Instance struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Status      Status          `json:"status"`
	CurrentStep int             `json:"current_step"`
	TotalSteps  int             `json:"total_steps"`
	Input       json.RawMessage `json:"input,omitempty"`
	Checkpoint  Checkpoint      `json:"-"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (i Instance) Clone() Instance {
	c := i
	c.Input = cloneRaw(i.Input)
	c.Result = cloneRaw(i.Result)
	c.Checkpoint = Checkpoint{}
	for k, v := range i.Checkpoint.Steps {
		c.Checkpoint.Record(k, cloneRaw(v))
	}
	for k, v := range i.Checkpoint.Responses {
		if c.Checkpoint.Responses == nil {
			c.Checkpoint.Responses = make(map[string]string)
		}
		c.Checkpoint.Responses[k] = v
	}
	if i.Checkpoint.PromptID != nil {
		id := *i.Checkpoint.PromptID
		c.Checkpoint.PromptID = &id
	}
	return c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

// StartCommand is the body of a start request.
type StartCommand struct {
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input"`
}

// StartResult is returned by a successful start.
type StartResult struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
}
