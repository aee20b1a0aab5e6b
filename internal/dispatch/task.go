// Package dispatch fans a workflow step out to independent search providers
// and aggregates their results under a partial-failure policy.
package dispatch

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the outcome of a single provider task.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Task is one provider call within a dispatch round. Tasks are never persisted.
type Task struct {
	ProviderID       string          `json:"provider_id"`
	Request          json.RawMessage `json:"request"`
	Timeout          time.Duration   `json:"timeout"`
	RetriesRemaining int             `json:"retries_remaining"`
	Status           Status          `json:"status"`
	Result           json.RawMessage `json:"result,omitempty"`
	Err              error           `json:"-"`
	Attempts         int             `json:"attempts"`
}

// Caller performs a single provider request.
type Caller interface {
	Call(ctx context.Context, providerID string, request json.RawMessage) (json.RawMessage, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, providerID string, request json.RawMessage) (json.RawMessage, error)

func (f CallerFunc) Call(ctx context.Context, providerID string, request json.RawMessage) (json.RawMessage, error) {
	return f(ctx, providerID, request)
}
