package hitl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/pkg/lifecycle"
)

// Continuation is the workflow side of a prompt: the engine resumes or fails
// the suspended workflow when the gate settles a prompt.
type Continuation interface {
	Resume(ctx context.Context, workflowID uuid.UUID, resp Response) error
	Expire(ctx context.Context, workflowID, promptID uuid.UUID) error
}

// Publisher receives prompt announcements.
type Publisher interface {
	Publish(evt progress.Event)
}

// Gate registers prompts, validates responses and hands them to the bound
// Continuation.
type Gate struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	expiry    time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	cont Continuation

	// expired prompts whose workflow could not be failed yet
	unsettledMu sync.Mutex
	unsettled   map[uuid.UUID]Prompt
}

// Option configures a Gate.
type Option func(*Gate)

// WithExpiry sets how long a prompt may stay pending. Zero disables expiry.
func WithExpiry(d time.Duration) Option {
	return func(g *Gate) { g.expiry = d }
}

// WithClock overrides the gate's time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a Gate. Bind must be called before Respond or Sweep.
func New(store Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		publisher: publisher,
		logger:    logger.With("system", "hitl"),
		now:       time.Now,
		unsettled: make(map[uuid.UUID]Prompt),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bind sets the continuation that resumes and expires workflows.
func (g *Gate) Bind(c Continuation) {
	g.mu.Lock()
	g.cont = c
	g.mu.Unlock()
}

func (g *Gate) continuation() (Continuation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.cont == nil {
		return nil, ErrNotBound
	}
	return g.cont, nil
}

// CreatePrompt durably registers a pending prompt for workflowID and announces
// it to subscribers. Returns ErrPromptAlreadyPending if one already exists.
func (g *Gate) CreatePrompt(ctx context.Context, workflowID uuid.UUID, req Request) (*Prompt, error) {
	now := g.now().UTC()
	p := Prompt{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Step:       req.Step,
		Question:   req.Question,
		Options:    req.Options,
		Context:    req.Context,
		Status:     StatusPending,
		CreatedAt:  now,
	}
	if p.Options == nil {
		p.Options = []string{}
	}
	if g.expiry > 0 {
		exp := now.Add(g.expiry)
		p.ExpiresAt = &exp
	}

	if err := g.store.Create(ctx, p); err != nil {
		return nil, err
	}

	g.publisher.Publish(progress.NewEvent(workflowID, progress.KindHITLPrompt, progress.PromptPayload{
		PromptID: p.ID,
		Question: p.Question,
		Options:  p.Options,
		Context:  p.Context,
	}))

	g.logger.InfoContext(ctx, "prompt created",
		"workflow_id", workflowID,
		"prompt_id", p.ID,
		"step", p.Step,
	)

	return &p, nil
}

// Respond validates a human response and resumes the owning workflow.
func (g *Gate) Respond(ctx context.Context, workflowID uuid.UUID, resp Response) error {
	p, err := g.store.Find(ctx, resp.PromptID)
	if err != nil {
		return err
	}
	if p.WorkflowID != workflowID {
		return ErrHITLMismatch
	}
	if p.Status != StatusPending {
		return ErrPromptClosed
	}
	if !p.Accepts(resp.Response) {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidOption, resp.Response, p.Options)
	}

	cont, err := g.continuation()
	if err != nil {
		return err
	}
	return cont.Resume(ctx, workflowID, resp)
}

// Find returns a prompt by id.
func (g *Gate) Find(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	return g.store.Find(ctx, id)
}

// Pending returns the workflow's pending prompt, or ErrUnknownPrompt.
func (g *Gate) Pending(ctx context.Context, workflowID uuid.UUID) (*Prompt, error) {
	return g.store.Pending(ctx, workflowID)
}

// Answer closes a pending prompt with response. Exactly one caller succeeds;
// later callers receive ErrPromptClosed.
func (g *Gate) Answer(ctx context.Context, promptID uuid.UUID, response string) error {
	return g.store.Answer(ctx, promptID, response, g.now().UTC())
}

// Withdraw expires a pending prompt without notifying the continuation.
func (g *Gate) Withdraw(ctx context.Context, promptID uuid.UUID) error {
	return g.store.Expire(ctx, promptID)
}

// Sweep expires overdue prompts and fails their workflows. Workflows that
// could not be failed are retried on the next sweep. Returns the number of
// prompts newly expired.
func (g *Gate) Sweep(ctx context.Context) (int, error) {
	cont, err := g.continuation()
	if err != nil {
		return 0, err
	}

	g.settle(ctx, cont, g.takeUnsettled())

	expired, err := g.store.ExpireDue(ctx, g.now().UTC())
	if err != nil {
		return 0, err
	}

	for _, p := range expired {
		g.logger.WarnContext(ctx, "prompt expired",
			"workflow_id", p.WorkflowID,
			"prompt_id", p.ID,
		)
	}
	g.settle(ctx, cont, expired)
	return len(expired), nil
}

// Unsettled returns how many expired prompts still await their workflow's failure.
func (g *Gate) Unsettled() int {
	g.unsettledMu.Lock()
	defer g.unsettledMu.Unlock()
	return len(g.unsettled)
}

func (g *Gate) settle(ctx context.Context, cont Continuation, prompts []Prompt) {
	for _, p := range prompts {
		if err := cont.Expire(ctx, p.WorkflowID, p.ID); err != nil {
			g.logger.ErrorContext(ctx, "expire workflow failed, retrying next sweep",
				"workflow_id", p.WorkflowID,
				"prompt_id", p.ID,
				"error", err,
			)
			g.unsettledMu.Lock()
			g.unsettled[p.ID] = p
			g.unsettledMu.Unlock()
		}
	}
}

func (g *Gate) takeUnsettled() []Prompt {
	g.unsettledMu.Lock()
	defer g.unsettledMu.Unlock()

	out := make([]Prompt, 0, len(g.unsettled))
	for id, p := range g.unsettled {
		out = append(out, p)
		delete(g.unsettled, id)
	}
	return out
}

// Start runs Sweep every interval until the coordinator shuts down.
func (g *Gate) Start(lc *lifecycle.Coordinator, interval time.Duration) {
	if interval <= 0 || g.expiry <= 0 {
		return
	}

	lc.Go("hitl.sweeper", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		g.logger.Info("prompt expiry sweeper started", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				g.logger.Info("prompt expiry sweeper stopped")
				return
			case <-ticker.C:
				if _, err := g.Sweep(ctx); err != nil {
					g.logger.Error("prompt sweep failed", "error", err)
				}
			}
		}
	})
}
