package workflows

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
)

// Memory is a process-local Store. Values are copied on the way in and out.
type Memory struct {
	mu         sync.RWMutex
	instances  map[uuid.UUID]Instance
	pagination pagination.Config
}

// NewMemory creates an empty in-memory workflow store.
func NewMemory() *Memory {
	return &Memory{
		instances:  make(map[uuid.UUID]Instance),
		pagination: pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
	}
}

func (m *Memory) Create(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.ID]; ok {
		return ErrDuplicate
	}
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := inst.Clone()
	return &c, nil
}

func (m *Memory) Save(_ context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.ID]; !ok {
		return ErrNotFound
	}
	inst.UpdatedAt = time.Now().UTC()
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *Memory) List(_ context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Instance], error) {
	page.Normalize(m.pagination)

	m.mu.RLock()
	matched := make([]Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if !filters.Matches(&inst) {
			continue
		}
		if page.Search != nil && !containsFold(inst.Type, *page.Search) && !containsFold(inst.Error, *page.Search) {
			continue
		}
		matched = append(matched, inst.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Instance) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	result := pagination.Slice(matched, page)
	return &result, nil
}

func (m *Memory) Open(_ context.Context) ([]Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Instance
	for _, inst := range m.instances {
		if !inst.Status.Terminal() {
			out = append(out, inst.Clone())
		}
	}
	slices.SortFunc(out, func(a, b Instance) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
