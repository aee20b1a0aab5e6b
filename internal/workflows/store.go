package workflows

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
)

// Store persists workflow instances. Save is durable before it returns.
type Store interface {
	Create(ctx context.Context, inst *Instance) error
	Find(ctx context.Context, id uuid.UUID) (*Instance, error)
	Save(ctx context.Context, inst *Instance) error
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Instance], error)
	// Open returns every non-terminal instance, oldest first.
	Open(ctx context.Context) ([]Instance, error)
}
