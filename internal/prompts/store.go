package prompts

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/pkg/pagination"
)

// Store persists prompt overrides. Implementations keep names unique and
// at most one prompt active per stage. Page requests arrive normalized.
type Store interface {
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Prompt], error)
	Find(ctx context.Context, id uuid.UUID) (*Prompt, error)

	// Active returns the stage's active prompt, or nil when it has none.
	Active(ctx context.Context, stage Stage) (*Prompt, error)

	Create(ctx context.Context, cmd Command) (*Prompt, error)

	// Update replaces the writable fields. Moving an active prompt to
	// another stage deactivates it.
	Update(ctx context.Context, id uuid.UUID, cmd Command) (*Prompt, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// SetActive toggles the active flag. Activating a prompt deactivates
	// whichever prompt was active for its stage.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Prompt, error)
}
