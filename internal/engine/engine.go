// Package engine drives workflow instances through their steps, suspending
// on human prompts and resuming when answers arrive.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/backoff"
	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/pagination"
)

const instrumentationName = "github.com/JaimeStill/compass/internal/engine"

// Defaults applied when the matching option is not set.
const (
	DefaultMaxStepAttempts = 3
	DefaultRoundTimeout    = 30 * time.Second
)

// Archiver stores terminal instances.
type Archiver interface {
	Put(ctx context.Context, inst *workflows.Instance) error
}

// StepOutcome reports where Advance left an instance.
type StepOutcome struct {
	Status   workflows.Status `json:"status"`
	Step     string           `json:"step,omitempty"`
	PromptID *uuid.UUID       `json:"prompt_id,omitempty"`
}

// Engine owns every workflow state transition.
type Engine struct {
	registry   *Registry
	store      workflows.Store
	gate       *hitl.Gate
	dispatcher *dispatch.Dispatcher
	publisher  *progress.Publisher
	archive    Archiver
	logger     *slog.Logger
	tracer     trace.Tracer

	maxAttempts  int
	backoff      backoff.Strategy
	roundTimeout time.Duration

	locks *locker
	lc    *lifecycle.Coordinator

	mu       sync.Mutex
	running  map[uuid.UUID]context.CancelCauseFunc
	stopping bool
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithAsync runs continuations after Start and Resume on background
// goroutines bound to lc. Shutdown waits for them to stop.
func WithAsync(lc *lifecycle.Coordinator) Option {
	return func(e *Engine) { e.lc = lc }
}

// WithMaxStepAttempts bounds how often a retryable step failure is retried.
func WithMaxStepAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay between step attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Engine) { e.backoff = s }
}

// WithRoundTimeout sets the dispatch round bound for definitions that do
// not carry their own.
func WithRoundTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.roundTimeout = d
		}
	}
}

// WithArchive sets where terminal instances are archived.
func WithArchive(a Archiver) Option {
	return func(e *Engine) { e.archive = a }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an Engine and binds it to gate as the prompt continuation.
func New(
	registry *Registry,
	store workflows.Store,
	gate *hitl.Gate,
	dispatcher *dispatch.Dispatcher,
	publisher *progress.Publisher,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry:     registry,
		store:        store,
		gate:         gate,
		dispatcher:   dispatcher,
		publisher:    publisher,
		logger:       logger.With("system", "engine"),
		tracer:       otel.Tracer(instrumentationName),
		maxAttempts:  DefaultMaxStepAttempts,
		backoff:      backoff.NewExponential(500*time.Millisecond, 10*time.Second),
		roundTimeout: DefaultRoundTimeout,
		locks:        newLocker(),
		running:      make(map[uuid.UUID]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}

	gate.Bind(e)

	if e.lc != nil {
		e.lc.OnShutdown("engine", func() {
			e.mu.Lock()
			e.stopping = true
			e.mu.Unlock()
			e.wg.Wait()
			e.logger.Info("engine stopped")
		})
	}

	return e
}

// Start creates a workflow instance of cmd.Type and begins advancing it.
func (e *Engine) Start(ctx context.Context, cmd workflows.StartCommand) (uuid.UUID, error) {
	def, err := e.registry.Lookup(cmd.Type)
	if err != nil {
		return uuid.Nil, err
	}

	input := cmd.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if !json.Valid(input) {
		return uuid.Nil, fmt.Errorf("%w: input is not valid JSON", workflows.ErrInvalidInput)
	}

	now := time.Now().UTC()
	inst := &workflows.Instance{
		ID:         uuid.New(),
		Type:       def.Type,
		Status:     workflows.StatusCreated,
		TotalSteps: len(def.Steps),
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.Create(ctx, inst); err != nil {
		return uuid.Nil, err
	}

	e.logger.InfoContext(ctx, "workflow started", "workflow_id", inst.ID, "type", inst.Type)

	e.launch(ctx, inst.ID)
	return inst.ID, nil
}

// Find returns the current state of a workflow.
func (e *Engine) Find(ctx context.Context, id uuid.UUID) (*workflows.Instance, error) {
	return e.store.Find(ctx, id)
}

// List returns a page of workflows.
func (e *Engine) List(ctx context.Context, page pagination.PageRequest, filters workflows.Filters) (*pagination.PageResult[workflows.Instance], error) {
	return e.store.List(ctx, page, filters)
}

// Respond validates a human response through the gate, which resumes the
// workflow.
func (e *Engine) Respond(ctx context.Context, id uuid.UUID, resp hitl.Response) error {
	if _, err := e.store.Find(ctx, id); err != nil {
		return err
	}
	return e.gate.Respond(ctx, id, resp)
}

// Prompt returns the workflow's pending prompt.
func (e *Engine) Prompt(ctx context.Context, id uuid.UUID) (*hitl.Prompt, error) {
	if _, err := e.store.Find(ctx, id); err != nil {
		return nil, err
	}
	return e.gate.Pending(ctx, id)
}

// Subscribe attaches to the workflow's progress events.
func (e *Engine) Subscribe(id uuid.UUID) *progress.Subscription {
	return e.publisher.Subscribe(id)
}

// Unsubscribe detaches a progress subscription.
func (e *Engine) Unsubscribe(sub *progress.Subscription) {
	e.publisher.Unsubscribe(sub)
}

// Advance runs steps from the instance's current step until it completes,
// fails, or suspends on a prompt. Advancing a suspended instance is a no-op.
// When ctx ends mid-step the instance is left as is for Recover or Cancel.
func (e *Engine) Advance(ctx context.Context, id uuid.UUID) (StepOutcome, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	unlock := e.locks.lock(id)
	defer unlock()

	e.track(id, cancel)
	defer e.untrack(id)

	inst, err := e.store.Find(ctx, id)
	if err != nil {
		return StepOutcome{}, err
	}

	ctx, span := e.tracer.Start(ctx, "engine.advance", trace.WithAttributes(
		attribute.String("workflow.id", id.String()),
		attribute.String("workflow.type", inst.Type),
	))
	defer span.End()

	out, err := e.advance(ctx, inst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("workflow.status", string(out.Status)))
	return out, err
}

func (e *Engine) advance(ctx context.Context, inst *workflows.Instance) (StepOutcome, error) {
	if inst.Status.Terminal() {
		return outcomeOf(inst, ""), workflows.ErrTerminal
	}
	if inst.Status == workflows.StatusAwaitingHITL {
		return outcomeOf(inst, e.stepName(inst)), nil
	}

	def, err := e.registry.Lookup(inst.Type)
	if err != nil {
		return e.fail(ctx, inst, err)
	}

	if inst.Status == workflows.StatusCreated {
		inst.Status = workflows.StatusRunning
		if err := e.store.Save(ctx, inst); err != nil {
			return outcomeOf(inst, ""), err
		}
	}

	for inst.CurrentStep < len(def.Steps) {
		if ctx.Err() != nil {
			return outcomeOf(inst, ""), context.Cause(ctx)
		}

		step := def.Steps[inst.CurrentStep]
		e.publishStep(inst, step.Name, "started")

		oc, err := e.runStep(ctx, def, inst, step)
		if err != nil {
			if ctx.Err() != nil {
				return outcomeOf(inst, step.Name), context.Cause(ctx)
			}
			if !Retryable(err) || inst.Attempts+1 >= e.maxAttempts {
				return e.fail(ctx, inst, fmt.Errorf("step %s: %w", step.Name, err))
			}

			inst.Attempts++
			e.logger.WarnContext(ctx, "step failed, retrying",
				"workflow_id", inst.ID,
				"step", step.Name,
				"attempt", inst.Attempts,
				"error", err,
			)
			if err := e.store.Save(ctx, inst); err != nil {
				return outcomeOf(inst, step.Name), err
			}
			if err := backoff.Wait(ctx, e.backoff, inst.Attempts); err != nil {
				return outcomeOf(inst, step.Name), err
			}
			continue
		}

		if oc.kind == outcomeSuspend {
			return e.suspend(ctx, inst, step.Name, oc.prompt)
		}

		if err := e.record(inst, step.Name, oc.output); err != nil {
			return e.fail(ctx, inst, err)
		}
		inst.CurrentStep++
		inst.Attempts = 0
		if err := e.store.Save(ctx, inst); err != nil {
			return outcomeOf(inst, step.Name), err
		}

		e.publishStep(inst, step.Name, "completed")
	}

	return e.complete(ctx, inst, def)
}

// runStep executes a handler and, for FanOut outcomes, the dispatch round.
// FanOut results come back as a Next outcome carrying the StepResult.
func (e *Engine) runStep(ctx context.Context, def *Definition, inst *workflows.Instance, step Step) (Outcome, error) {
	sc := &StepContext{
		WorkflowID: inst.ID,
		Type:       inst.Type,
		Step:       step.Name,
		Index:      inst.CurrentStep,
		Attempt:    inst.Attempts + 1,
		input:      inst.Input,
		checkpoint: &inst.Checkpoint,
	}

	oc, err := step.Run(ctx, sc)
	if err != nil {
		return Outcome{}, err
	}
	if oc.kind != outcomeFanOut {
		return oc, nil
	}

	roundTimeout := def.RoundTimeout
	if roundTimeout <= 0 {
		roundTimeout = e.roundTimeout
	}
	policy := def.Policy
	if oc.policy != nil {
		policy = *oc.policy
	}

	tasks := e.dispatcher.Dispatch(ctx, oc.tasks, roundTimeout)
	if ctx.Err() != nil {
		return Outcome{}, context.Cause(ctx)
	}

	result, err := dispatch.Aggregate(tasks, policy)
	if err != nil {
		return Outcome{}, err
	}

	e.logger.InfoContext(ctx, "dispatch round aggregated",
		"workflow_id", inst.ID,
		"step", step.Name,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
	return Next(result), nil
}

func (e *Engine) record(inst *workflows.Instance, step string, output any) error {
	if output == nil {
		return nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("step %s: encode output: %w", step, err)
	}
	inst.Checkpoint.Record(step, data)
	return nil
}

func (e *Engine) suspend(ctx context.Context, inst *workflows.Instance, step string, req hitl.Request) (StepOutcome, error) {
	req.Step = step

	prompt, err := e.gate.CreatePrompt(ctx, inst.ID, req)
	if errors.Is(err, hitl.ErrPromptAlreadyPending) {
		// A crash between prompt creation and the checkpoint save leaves the
		// prompt behind; adopt it when it belongs to this step.
		pending, perr := e.gate.Pending(ctx, inst.ID)
		if perr != nil || pending.Step != step {
			return e.fail(ctx, inst, fmt.Errorf("step %s: %w", step, err))
		}
		prompt, err = pending, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcomeOf(inst, step), context.Cause(ctx)
		}
		return e.fail(ctx, inst, fmt.Errorf("step %s: %w", step, err))
	}

	id := prompt.ID
	inst.Checkpoint.PromptID = &id
	inst.Status = workflows.StatusAwaitingHITL
	inst.Attempts = 0
	if err := e.store.Save(ctx, inst); err != nil {
		return outcomeOf(inst, step), err
	}

	e.logger.InfoContext(ctx, "workflow awaiting response",
		"workflow_id", inst.ID,
		"step", step,
		"prompt_id", prompt.ID,
	)
	return outcomeOf(inst, step), nil
}

func (e *Engine) complete(ctx context.Context, inst *workflows.Instance, def *Definition) (StepOutcome, error) {
	last := def.Steps[len(def.Steps)-1].Name
	if out, ok := inst.Checkpoint.Output(last); ok {
		inst.Result = out
	}
	inst.Status = workflows.StatusCompleted

	if err := e.store.Save(context.WithoutCancel(ctx), inst); err != nil {
		return outcomeOf(inst, last), err
	}

	e.logger.InfoContext(ctx, "workflow completed", "workflow_id", inst.ID, "type", inst.Type)
	e.finish(ctx, inst)
	return outcomeOf(inst, last), nil
}

// fail moves inst to failed. The returned error is nil when the failure was
// recorded; it only reports persistence problems.
func (e *Engine) fail(ctx context.Context, inst *workflows.Instance, cause error) (StepOutcome, error) {
	step := e.stepName(inst)

	inst.Status = workflows.StatusFailed
	inst.ErrorKind = Classify(cause)
	inst.Error = cause.Error()
	inst.Checkpoint.PromptID = nil

	if err := e.store.Save(context.WithoutCancel(ctx), inst); err != nil {
		return outcomeOf(inst, step), err
	}

	e.logger.WarnContext(ctx, "workflow failed",
		"workflow_id", inst.ID,
		"step", step,
		"error_kind", inst.ErrorKind,
		"error", inst.Error,
	)
	e.finish(ctx, inst)
	return outcomeOf(inst, step), nil
}

func (e *Engine) finish(ctx context.Context, inst *workflows.Instance) {
	e.publisher.Publish(workflows.TerminalEvent(inst))

	if e.archive == nil {
		return
	}
	if err := e.archive.Put(context.WithoutCancel(ctx), inst); err != nil {
		e.logger.ErrorContext(ctx, "archive result failed", "workflow_id", inst.ID, "error", err)
	}
}

// Resume applies an answer to the workflow's pending prompt and continues
// advancing it.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID, resp hitl.Response) error {
	unlock := e.locks.lock(id)

	inst, err := e.store.Find(ctx, id)
	if err != nil {
		unlock()
		return err
	}

	if inst.Status != workflows.StatusAwaitingHITL ||
		inst.Checkpoint.PromptID == nil ||
		*inst.Checkpoint.PromptID != resp.PromptID {
		unlock()
		return hitl.ErrHITLMismatch
	}

	if err := e.gate.Answer(ctx, resp.PromptID, resp.Response); err != nil {
		unlock()
		return err
	}

	if err := e.applyResponse(ctx, inst, resp.Response); err != nil {
		unlock()
		return err
	}
	unlock()

	e.logger.InfoContext(ctx, "workflow resumed",
		"workflow_id", id,
		"prompt_id", resp.PromptID,
	)
	e.launch(ctx, id)
	return nil
}

func (e *Engine) applyResponse(ctx context.Context, inst *workflows.Instance, response string) error {
	inst.Checkpoint.Respond(e.stepName(inst), response)
	inst.Status = workflows.StatusRunning
	return e.store.Save(ctx, inst)
}

// Cancel fails a non-terminal workflow with Cancelled, interrupting any
// in-flight step and withdrawing its pending prompt.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*workflows.Instance, error) {
	e.interrupt(id, workflows.ErrCancelled)

	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return inst, workflows.ErrTerminal
	}

	if pid := inst.Checkpoint.PromptID; pid != nil {
		if err := e.gate.Withdraw(ctx, *pid); err != nil && !errors.Is(err, hitl.ErrUnknownPrompt) {
			return nil, err
		}
	}

	if _, err := e.fail(ctx, inst, workflows.ErrCancelled); err != nil {
		return nil, err
	}
	return inst, nil
}

// Expire fails a workflow whose prompt timed out. Stale notifications for
// prompts the workflow no longer waits on are ignored.
func (e *Engine) Expire(ctx context.Context, id, promptID uuid.UUID) error {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if inst.Status != workflows.StatusAwaitingHITL ||
		inst.Checkpoint.PromptID == nil ||
		*inst.Checkpoint.PromptID != promptID {
		return nil
	}

	_, err = e.fail(ctx, inst, hitl.ErrHITLTimeout)
	return err
}

// Recover re-launches instances interrupted by a restart. Suspended
// instances whose prompt was answered or expired before the crash are
// settled accordingly. Returns the number of instances re-launched.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	open, err := e.store.Open(ctx)
	if err != nil {
		return 0, err
	}

	launched := 0
	for _, inst := range open {
		relaunch, err := e.settle(ctx, inst.ID)
		if err != nil {
			e.logger.ErrorContext(ctx, "recover workflow failed", "workflow_id", inst.ID, "error", err)
			continue
		}
		if relaunch {
			e.launch(ctx, inst.ID)
			launched++
		}
	}

	e.logger.InfoContext(ctx, "workflows recovered", "open", len(open), "relaunched", launched)
	return launched, nil
}

func (e *Engine) settle(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.store.Find(ctx, id)
	if err != nil {
		return false, err
	}

	switch inst.Status {
	case workflows.StatusCreated, workflows.StatusRunning:
		return true, nil
	case workflows.StatusAwaitingHITL:
	default:
		return false, nil
	}

	if inst.Checkpoint.PromptID == nil {
		return true, nil
	}

	p, err := e.gate.Find(ctx, *inst.Checkpoint.PromptID)
	if err != nil {
		return false, err
	}

	switch p.Status {
	case hitl.StatusAnswered:
		if p.Response == nil {
			return false, fmt.Errorf("prompt %s answered without a response", p.ID)
		}
		return true, e.applyResponse(ctx, inst, *p.Response)
	case hitl.StatusExpired:
		_, err := e.fail(ctx, inst, hitl.ErrHITLTimeout)
		return false, err
	}
	return false, nil
}

// launch advances id inline, or in the background when running async.
func (e *Engine) launch(ctx context.Context, id uuid.UUID) {
	if e.lc == nil {
		if _, err := e.Advance(ctx, id); err != nil {
			e.logger.ErrorContext(ctx, "advance failed", "workflow_id", id, "error", err)
		}
		return
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		e.logger.Warn("engine stopping, workflow left for recovery", "workflow_id", id)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		ctx := e.lc.Context()
		if _, err := e.Advance(ctx, id); err != nil && ctx.Err() == nil {
			e.logger.Error("advance failed", "workflow_id", id, "error", err)
		}
	}()
}

func (e *Engine) track(id uuid.UUID, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(id uuid.UUID) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

func (e *Engine) interrupt(id uuid.UUID, cause error) {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel(cause)
	}
}

func (e *Engine) stepName(inst *workflows.Instance) string {
	def, err := e.registry.Lookup(inst.Type)
	if err != nil || inst.CurrentStep >= len(def.Steps) {
		return ""
	}
	return def.Steps[inst.CurrentStep].Name
}

func (e *Engine) publishStep(inst *workflows.Instance, step, phase string) {
	e.publisher.Publish(progress.NewEvent(inst.ID, progress.KindProgress, progress.StepPayload{
		Step:       step,
		StepIndex:  inst.CurrentStep,
		TotalSteps: inst.TotalSteps,
		Phase:      phase,
		Message:    fmt.Sprintf("%s %s", step, phase),
	}))
}

func outcomeOf(inst *workflows.Instance, step string) StepOutcome {
	return StepOutcome{
		Status:   inst.Status,
		Step:     step,
		PromptID: inst.Checkpoint.PromptID,
	}
}

var _ workflows.System = (*Engine)(nil)
var _ hitl.Continuation = (*Engine)(nil)
