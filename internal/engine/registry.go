package engine

import (
	"fmt"
	"slices"
	"sync"

	"github.com/JaimeStill/compass/internal/workflows"
)

// Registry holds the known workflow definitions by type.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a registry holding defs.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Types must be unique.
func (r *Registry) Register(d *Definition) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[d.Type]; exists {
		return fmt.Errorf("workflow type %s already registered", d.Type)
	}
	r.defs[d.Type] = d
	return nil
}

// Lookup returns the definition for typ or ErrUnknownType.
func (r *Registry) Lookup(typ string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflows.ErrUnknownType, typ)
	}
	return d, nil
}

// Types lists the registered workflow types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
