package hitl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	prompts map[uuid.UUID]Prompt
}

// NewMemory creates an empty in-memory prompt store.
func NewMemory() *Memory {
	return &Memory{prompts: make(map[uuid.UUID]Prompt)}
}

func (m *Memory) Create(_ context.Context, p Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.prompts {
		if existing.WorkflowID == p.WorkflowID && existing.Status == StatusPending {
			return ErrPromptAlreadyPending
		}
	}
	m.prompts[p.ID] = clonePrompt(p)
	return nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[id]
	if !ok {
		return nil, ErrUnknownPrompt
	}
	c := clonePrompt(p)
	return &c, nil
}

func (m *Memory) Pending(_ context.Context, workflowID uuid.UUID) (*Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.prompts {
		if p.WorkflowID == workflowID && p.Status == StatusPending {
			c := clonePrompt(p)
			return &c, nil
		}
	}
	return nil, ErrUnknownPrompt
}

func (m *Memory) Answer(_ context.Context, id uuid.UUID, response string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[id]
	if !ok {
		return ErrUnknownPrompt
	}
	if p.Status != StatusPending {
		return ErrPromptClosed
	}

	p.Status = StatusAnswered
	p.Response = &response
	p.AnsweredAt = &at
	m.prompts[id] = p
	return nil
}

func (m *Memory) Expire(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[id]
	if !ok {
		return ErrUnknownPrompt
	}
	if p.Status != StatusPending {
		return ErrPromptClosed
	}

	p.Status = StatusExpired
	m.prompts[id] = p
	return nil
}

func (m *Memory) ExpireDue(_ context.Context, now time.Time) ([]Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Prompt
	for id, p := range m.prompts {
		if p.Status != StatusPending || p.ExpiresAt == nil || p.ExpiresAt.After(now) {
			continue
		}
		p.Status = StatusExpired
		m.prompts[id] = p
		expired = append(expired, clonePrompt(p))
	}
	return expired, nil
}

func clonePrompt(p Prompt) Prompt {
	if p.Options != nil {
		p.Options = append([]string(nil), p.Options...)
	}
	if p.Context != nil {
		ctx := make(map[string]any, len(p.Context))
		for k, v := range p.Context {
			ctx[k] = v
		}
		p.Context = ctx
	}
	return p
}
