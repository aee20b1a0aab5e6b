package prompts

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
)

// Memory is a process-local Store for deployments without a database.
type Memory struct {
	mu      sync.RWMutex
	prompts map[uuid.UUID]Prompt
}

// NewMemory creates an empty in-memory prompt store.
func NewMemory() *Memory {
	return &Memory{prompts: make(map[uuid.UUID]Prompt)}
}

func (m *Memory) List(_ context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Prompt], error) {
	m.mu.RLock()
	matched := make([]Prompt, 0, len(m.prompts))
	for _, p := range m.prompts {
		if !filters.Matches(&p) {
			continue
		}
		if page.Search != nil && !searchMatches(&p, *page.Search) {
			continue
		}
		matched = append(matched, clonePrompt(p))
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Prompt) int {
		return cmp.Compare(a.Name, b.Name)
	})

	result := pagination.Slice(matched, page)
	return &result, nil
}

func searchMatches(p *Prompt, search string) bool {
	if containsFold(p.Name, search) {
		return true
	}
	return p.Description != nil && containsFold(*p.Description, search)
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := clonePrompt(p)
	return &c, nil
}

func (m *Memory) Active(_ context.Context, stage Stage) (*Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.prompts {
		if p.Stage == stage && p.Active {
			c := clonePrompt(p)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) Create(_ context.Context, cmd Command) (*Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTaken(cmd.Name, uuid.Nil) {
		return nil, ErrDuplicate
	}

	now := time.Now().UTC()
	p := Prompt{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(&p, cmd)
	m.prompts[p.ID] = p

	c := clonePrompt(p)
	return &c, nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, cmd Command) (*Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.nameTaken(cmd.Name, id) {
		return nil, ErrDuplicate
	}

	if p.Stage != cmd.Stage {
		p.Active = false
	}
	apply(&p, cmd)
	p.UpdatedAt = time.Now().UTC()
	m.prompts[id] = p

	c := clonePrompt(p)
	return &c, nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prompts[id]; !ok {
		return ErrNotFound
	}
	delete(m.prompts, id)
	return nil
}

func (m *Memory) SetActive(_ context.Context, id uuid.UUID, active bool) (*Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	if active {
		for oid, other := range m.prompts {
			if oid != id && other.Stage == p.Stage && other.Active {
				other.Active = false
				other.UpdatedAt = now
				m.prompts[oid] = other
			}
		}
	}
	p.Active = active
	p.UpdatedAt = now
	m.prompts[id] = p

	c := clonePrompt(p)
	return &c, nil
}

func (m *Memory) nameTaken(name string, except uuid.UUID) bool {
	for id, p := range m.prompts {
		if id != except && p.Name == name {
			return true
		}
	}
	return false
}

func apply(p *Prompt, cmd Command) {
	p.Name = cmd.Name
	p.Stage = cmd.Stage
	p.Instructions = cmd.Instructions
	p.Description = nil
	if cmd.Description != nil {
		d := *cmd.Description
		p.Description = &d
	}
}

func clonePrompt(p Prompt) Prompt {
	if p.Description != nil {
		d := *p.Description
		p.Description = &d
	}
	return p
}
