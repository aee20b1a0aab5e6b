package workflows

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/pkg/pagination"
)

// System defines the workflow operations exposed to transports.
type System interface {
	Start(ctx context.Context, cmd StartCommand) (uuid.UUID, error)
	Find(ctx context.Context, id uuid.UUID) (*Instance, error)
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Instance], error)
	Cancel(ctx context.Context, id uuid.UUID) (*Instance, error)
	Respond(ctx context.Context, id uuid.UUID, resp hitl.Response) error
	Prompt(ctx context.Context, id uuid.UUID) (*hitl.Prompt, error)
	Subscribe(id uuid.UUID) *progress.Subscription
	Unsubscribe(sub *progress.Subscription)
}

// TerminalEvent builds the final stream event for a terminal instance.
// Completed, cancelled and timed-out workflows end with a complete event;
// other failures end with an error event. Both carry the same payload.
func TerminalEvent(inst *Instance) progress.Event {
	kind := progress.KindComplete
	if inst.Status == StatusFailed &&
		inst.ErrorKind != KindCancelled &&
		inst.ErrorKind != KindHITLTimeout {
		kind = progress.KindError
	}

	return progress.NewEvent(inst.ID, kind, progress.TerminalPayload{
		WorkflowID: inst.ID,
		Status:     string(inst.Status),
		ErrorKind:  string(inst.ErrorKind),
		Error:      inst.Error,
		Result:     inst.Result,
	})
}
