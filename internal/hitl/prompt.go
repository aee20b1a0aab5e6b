// Package hitl suspends workflows on a human decision and resumes them when
// exactly one matching response arrives.
package hitl

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is a prompt's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusExpired  Status = "expired"
)

// Prompt is a question awaiting a human decision. A workflow has at most one
// pending prompt at a time.
type Prompt struct {
	ID         uuid.UUID      `json:"prompt_id"`
	WorkflowID uuid.UUID      `json:"workflow_id"`
	Step       string         `json:"step"`
	Question   string         `json:"question"`
	Options    []string       `json:"options"`
	Context    map[string]any `json:"context,omitempty"`
	Status     Status         `json:"status"`
	Response   *string        `json:"response,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}

// Accepts reports whether response is a valid answer. Free-text prompts
// (no options) accept anything.
func (p *Prompt) Accepts(response string) bool {
	return len(p.Options) == 0 || slices.Contains(p.Options, response)
}

// Response is a human's answer to a prompt.
type Response struct {
	PromptID uuid.UUID `json:"prompt_id"`
	Response string    `json:"response"`
}

// Request describes a prompt to create.
type Request struct {
	Step     string
	Question string
	Options  []string
	Context  map[string]any
}

// Store persists prompts. Implementations enforce the single-pending-prompt
// invariant atomically in Create.
type Store interface {
	Create(ctx context.Context, p Prompt) error
	Find(ctx context.Context, id uuid.UUID) (*Prompt, error)
	Pending(ctx context.Context, workflowID uuid.UUID) (*Prompt, error)
	// Answer moves a pending prompt to answered. Returns ErrPromptClosed when
	// the prompt exists but is not pending.
	Answer(ctx context.Context, id uuid.UUID, response string, at time.Time) error
	// Expire moves a pending prompt to expired.
	Expire(ctx context.Context, id uuid.UUID) error
	// ExpireDue expires all pending prompts whose deadline is at or before now
	// and returns them.
	ExpireDue(ctx context.Context, now time.Time) ([]Prompt, error)
}
