// Package progress fans workflow events out to live subscribers.
package progress

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an event.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindHITLPrompt Kind = "hitl_prompt"
	KindComplete   Kind = "complete"
	KindError      Kind = "error"
)

// Event is a single notification about a workflow.
// Payload is encoded once at construction and shared read-only by all subscribers.
type Event struct {
	WorkflowID uuid.UUID       `json:"workflow_id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Terminal reports whether the event ends the workflow's stream.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// WireType is the SSE event name sent to clients.
func (e Event) WireType() string {
	if e.Kind == KindComplete {
		return "workflow_complete"
	}
	return string(e.Kind)
}

// PromptID returns the prompt announced by a hitl_prompt event.
func (e Event) PromptID() (uuid.UUID, bool) {
	if e.Kind != KindHITLPrompt {
		return uuid.Nil, false
	}
	var p PromptPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return uuid.Nil, false
	}
	return p.PromptID, true
}

// SkipPrompt matches the hitl_prompt event for promptID, for streams that
// already replayed it.
func SkipPrompt(promptID uuid.UUID) func(Event) bool {
	return func(e Event) bool {
		id, ok := e.PromptID()
		return ok && id == promptID
	}
}

// StepPayload reports step advancement.
type StepPayload struct {
	Step       string `json:"step"`
	StepIndex  int    `json:"step_index"`
	TotalSteps int    `json:"total_steps"`
	Phase      string `json:"phase"`
	Message    string `json:"message,omitempty"`
}

// PromptPayload announces a pending human decision.
type PromptPayload struct {
	PromptID uuid.UUID      `json:"prompt_id"`
	Question string         `json:"question"`
	Options  []string       `json:"options"`
	Context  map[string]any `json:"context,omitempty"`
}

// TerminalPayload is carried by both complete and error events.
type TerminalPayload struct {
	WorkflowID uuid.UUID       `json:"workflow_id"`
	Status     string          `json:"status"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// NewEvent encodes payload and stamps the event with the current time.
func NewEvent(workflowID uuid.UUID, kind Kind, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return Event{
		WorkflowID: workflowID,
		Kind:       kind,
		Payload:    data,
		Timestamp:  time.Now().UTC(),
	}
}
