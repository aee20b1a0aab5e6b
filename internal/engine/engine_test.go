package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/archive"
	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/backoff"
	"github.com/JaimeStill/compass/pkg/lifecycle"
	"github.com/JaimeStill/compass/pkg/storage"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stores outlive an engine so a second engine can stand in for a restarted process.
type stores struct {
	workflows *workflows.Memory
	prompts   *hitl.Memory
	blobs     *storage.Memory
}

func newStores() *stores {
	return &stores{
		workflows: workflows.NewMemory(),
		prompts:   hitl.NewMemory(),
		blobs:     storage.NewMemory(),
	}
}

type harness struct {
	*stores
	engine    *engine.Engine
	gate      *hitl.Gate
	publisher *progress.Publisher
	archive   *archive.Archive
}

func newHarness(t *testing.T, s *stores, caller dispatch.Caller, defs []*engine.Definition, opts ...engine.Option) *harness {
	t.Helper()

	registry, err := engine.NewRegistry(defs...)
	require.NoError(t, err)

	if caller == nil {
		caller = dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		})
	}

	logger := discard()
	pub := progress.New(logger)
	gate := hitl.New(s.prompts, pub, logger, hitl.WithExpiry(time.Hour))
	disp := dispatch.New(caller, logger, dispatch.WithBackoff(backoff.Constant{Interval: time.Millisecond}))
	arch := archive.New(s.blobs, logger)

	opts = append([]engine.Option{
		engine.WithBackoff(backoff.Constant{Interval: time.Millisecond}),
		engine.WithArchive(arch),
	}, opts...)

	return &harness{
		stores:    s,
		engine:    engine.New(registry, s.workflows, gate, disp, pub, logger, opts...),
		gate:      gate,
		publisher: pub,
		archive:   arch,
	}
}

func (h *harness) find(t *testing.T, id uuid.UUID) *workflows.Instance {
	t.Helper()
	inst, err := h.engine.Find(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) respond(t *testing.T, id uuid.UUID, answer string) error {
	t.Helper()
	ctx := context.Background()
	p, err := h.engine.Prompt(ctx, id)
	require.NoError(t, err)
	return h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: answer})
}

func providers(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("provider-%d", i+1)
	}
	return ids
}

// lookupDef fans out to ids and reports how many providers answered.
func lookupDef(ids []string, policy dispatch.Policy) *engine.Definition {
	return &engine.Definition{
		Type:         "lookup",
		Policy:       policy,
		RoundTimeout: time.Second,
		Steps: []engine.Step{
			{Name: "search", Run: func(context.Context, *engine.StepContext) (engine.Outcome, error) {
				tasks := make([]dispatch.Task, len(ids))
				for i, id := range ids {
					tasks[i] = dispatch.Task{
						ProviderID: id,
						Request:    json.RawMessage(`{"query":"minors"}`),
						Timeout:    50 * time.Millisecond,
					}
				}
				return engine.FanOut(tasks), nil
			}},
			{Name: "report", Run: func(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
				var res dispatch.StepResult
				if _, err := sc.Output("search", &res); err != nil {
					return engine.Outcome{}, err
				}
				return engine.Next(map[string]any{"succeeded": res.Succeeded}), nil
			}},
		},
	}
}

// cleanupDef asks before deleting and records the decision.
func cleanupDef() *engine.Definition {
	return &engine.Definition{
		Type: "cleanup",
		Steps: []engine.Step{
			{Name: "confirm", Run: func(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
				if answer, ok := sc.Response(); ok {
					return engine.Next(map[string]string{"decision": answer}), nil
				}
				return engine.Suspend(hitl.Request{
					Question: "Delete past iteration?",
					Options:  []string{"DELETE", "KEEP"},
				}), nil
			}},
			{Name: "apply", Run: func(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
				var confirm struct {
					Decision string `json:"decision"`
				}
				if _, err := sc.Output("confirm", &confirm); err != nil {
					return engine.Outcome{}, err
				}
				return engine.Next(map[string]bool{"deleted": confirm.Decision == "DELETE"}), nil
			}},
		},
	}
}

func singleStep(typ string, run engine.Handler) *engine.Definition {
	return &engine.Definition{
		Type:  typ,
		Steps: []engine.Step{{Name: "only", Run: run}},
	}
}

func start(t *testing.T, h *harness, typ string) uuid.UUID {
	t.Helper()
	id, err := h.engine.Start(context.Background(), workflows.StartCommand{
		Type:  typ,
		Input: json.RawMessage(`{"feature_name":"age gate"}`),
	})
	require.NoError(t, err)
	return id
}

func TestStartRejectsUnknownType(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})

	_, err := h.engine.Start(context.Background(), workflows.StartCommand{Type: "nope"})
	assert.ErrorIs(t, err, workflows.ErrUnknownType)
}

func TestStartRejectsMalformedInput(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})

	_, err := h.engine.Start(context.Background(), workflows.StartCommand{
		Type:  "cleanup",
		Input: json.RawMessage(`{not json`),
	})
	assert.ErrorIs(t, err, workflows.ErrInvalidInput)
}

func TestFanOutToleratesProviderTimeouts(t *testing.T) {
	ids := providers(5)
	caller := dispatch.CallerFunc(func(ctx context.Context, id string, _ json.RawMessage) (json.RawMessage, error) {
		if id == "provider-4" || id == "provider-5" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return json.RawMessage(`{"jurisdiction":"EU"}`), nil
	})
	h := newHarness(t, newStores(), caller, []*engine.Definition{lookupDef(ids, dispatch.BestEffort())})

	id := start(t, h, "lookup")

	inst := h.find(t, id)
	require.Equal(t, workflows.StatusCompleted, inst.Status)

	var result struct {
		Succeeded []string `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal(inst.Result, &result))
	assert.Equal(t, []string{"provider-1", "provider-2", "provider-3"}, result.Succeeded)
}

func TestSuspendAndResume(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	ctx := context.Background()

	id := start(t, h, "cleanup")
	inst := h.find(t, id)
	require.Equal(t, workflows.StatusAwaitingHITL, inst.Status)
	assert.Equal(t, 0, inst.CurrentStep)

	p, err := h.engine.Prompt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Delete past iteration?", p.Question)
	assert.Equal(t, []string{"DELETE", "KEEP"}, p.Options)
	assert.Equal(t, "confirm", p.Step)

	err = h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: "MAYBE"})
	assert.ErrorIs(t, err, hitl.ErrInvalidOption)
	assert.Equal(t, workflows.StatusAwaitingHITL, h.find(t, id).Status)

	require.NoError(t, h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: "KEEP"}))

	inst = h.find(t, id)
	assert.Equal(t, workflows.StatusCompleted, inst.Status)
	assert.JSONEq(t, `{"deleted":false}`, string(inst.Result))

	err = h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: "KEEP"})
	assert.ErrorIs(t, err, hitl.ErrPromptClosed)
	assert.Equal(t, 409, workflows.MapHTTPStatus(err))
}

func TestCompletesWithoutSubscribers(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{lookupDef(providers(2), dispatch.BestEffort())})

	id := start(t, h, "lookup")

	assert.Equal(t, workflows.StatusCompleted, h.find(t, id).Status)
	assert.Zero(t, h.publisher.Stats().Subscribers)
}

func TestResumeAfterRestart(t *testing.T) {
	s := newStores()
	first := newHarness(t, s, nil, []*engine.Definition{cleanupDef()})
	id := start(t, first, "cleanup")
	require.Equal(t, workflows.StatusAwaitingHITL, first.find(t, id).Status)

	p, err := first.engine.Prompt(context.Background(), id)
	require.NoError(t, err)

	restarted := newHarness(t, s, nil, []*engine.Definition{cleanupDef()})
	n, err := restarted.engine.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, restarted.engine.Respond(context.Background(), id, hitl.Response{
		PromptID: p.ID,
		Response: "DELETE",
	}))

	// An uninterrupted run for comparison.
	control := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	cid := start(t, control, "cleanup")
	require.NoError(t, control.respond(t, cid, "DELETE"))

	got, want := restarted.find(t, id), control.find(t, cid)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.CurrentStep, got.CurrentStep)
	assert.JSONEq(t, string(want.Result), string(got.Result))
}

func TestResumeRejectsMismatchedPrompt(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	ctx := context.Background()
	id := start(t, h, "cleanup")

	err := h.engine.Respond(ctx, id, hitl.Response{PromptID: uuid.New(), Response: "KEEP"})
	assert.ErrorIs(t, err, hitl.ErrUnknownPrompt)

	err = h.engine.Resume(ctx, id, hitl.Response{PromptID: uuid.New(), Response: "KEEP"})
	assert.ErrorIs(t, err, hitl.ErrHITLMismatch)

	other := start(t, h, "cleanup")
	p, err := h.engine.Prompt(ctx, other)
	require.NoError(t, err)
	err = h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: "KEEP"})
	assert.ErrorIs(t, err, hitl.ErrHITLMismatch)

	assert.Equal(t, workflows.StatusAwaitingHITL, h.find(t, id).Status)
	assert.Equal(t, workflows.StatusAwaitingHITL, h.find(t, other).Status)
}

func TestAdvanceIsIdempotentWhileSuspended(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	ctx := context.Background()
	id := start(t, h, "cleanup")
	before, err := h.engine.Prompt(ctx, id)
	require.NoError(t, err)

	out, err := h.engine.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusAwaitingHITL, out.Status)
	require.NotNil(t, out.PromptID)
	assert.Equal(t, before.ID, *out.PromptID)

	after, err := h.engine.Prompt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
}

func TestAdvanceTerminal(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{lookupDef(providers(1), dispatch.BestEffort())})
	id := start(t, h, "lookup")

	out, err := h.engine.Advance(context.Background(), id)
	assert.ErrorIs(t, err, workflows.ErrTerminal)
	assert.Equal(t, workflows.StatusCompleted, out.Status)
}

func TestRetryableStepRecovers(t *testing.T) {
	var calls atomic.Int32
	def := singleStep("flaky", func(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
		if calls.Add(1) < 3 {
			return engine.Outcome{}, fmt.Errorf("%w: model overloaded", engine.ErrTransient)
		}
		return engine.Next(map[string]int{"attempt": sc.Attempt}), nil
	})
	h := newHarness(t, newStores(), nil, []*engine.Definition{def}, engine.WithMaxStepAttempts(3))

	id := start(t, h, "flaky")

	inst := h.find(t, id)
	assert.Equal(t, workflows.StatusCompleted, inst.Status)
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, inst.Attempts)
	assert.JSONEq(t, `{"attempt":3}`, string(inst.Result))
}

func TestInsufficientResultsExhaustsRetries(t *testing.T) {
	caller := dispatch.CallerFunc(func(_ context.Context, id string, _ json.RawMessage) (json.RawMessage, error) {
		if id == "provider-1" {
			return json.RawMessage(`{}`), nil
		}
		return nil, errors.New("unavailable")
	})
	def := lookupDef(providers(3), dispatch.RequireQuorum(2))
	h := newHarness(t, newStores(), caller, []*engine.Definition{def}, engine.WithMaxStepAttempts(2))

	id := start(t, h, "lookup")

	inst := h.find(t, id)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindInsufficientResults, inst.ErrorKind)
	assert.Contains(t, inst.Error, "search")
	assert.Equal(t, 1, inst.Attempts)
}

func TestValidationFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	def := singleStep("strict", func(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
		calls.Add(1)
		var in struct {
			Name int `json:"feature_name"`
		}
		if err := sc.DecodeInput(&in); err != nil {
			return engine.Outcome{}, err
		}
		return engine.Next(nil), nil
	})
	h := newHarness(t, newStores(), nil, []*engine.Definition{def})

	id := start(t, h, "strict")

	inst := h.find(t, id)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindValidation, inst.ErrorKind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnexpectedErrorIsFatal(t *testing.T) {
	def := singleStep("broken", func(context.Context, *engine.StepContext) (engine.Outcome, error) {
		return engine.Outcome{}, errors.New("nil map")
	})
	h := newHarness(t, newStores(), nil, []*engine.Definition{def})

	id := start(t, h, "broken")

	inst := h.find(t, id)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindFatal, inst.ErrorKind)
}

func TestCancelSuspended(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	ctx := context.Background()
	id := start(t, h, "cleanup")
	p, err := h.engine.Prompt(ctx, id)
	require.NoError(t, err)

	inst, err := h.engine.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindCancelled, inst.ErrorKind)

	closed, err := h.gate.Find(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusExpired, closed.Status)

	_, err = h.engine.Cancel(ctx, id)
	assert.ErrorIs(t, err, workflows.ErrTerminal)

	err = h.engine.Respond(ctx, id, hitl.Response{PromptID: p.ID, Response: "KEEP"})
	assert.ErrorIs(t, err, hitl.ErrPromptClosed)
}

func TestCancelInterruptsRunningStep(t *testing.T) {
	entered := make(chan struct{})
	def := singleStep("slow", func(ctx context.Context, _ *engine.StepContext) (engine.Outcome, error) {
		close(entered)
		<-ctx.Done()
		return engine.Outcome{}, ctx.Err()
	})

	lc := lifecycle.New()
	h := newHarness(t, newStores(), nil, []*engine.Definition{def}, engine.WithAsync(lc))
	id := start(t, h, "slow")

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("step never started")
	}

	inst, err := h.engine.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindCancelled, inst.ErrorKind)

	require.NoError(t, lc.Shutdown(2*time.Second))
	assert.Equal(t, workflows.KindCancelled, h.find(t, id).ErrorKind)
}

func TestExpiredPromptFailsWorkflow(t *testing.T) {
	s := newStores()
	h := newHarness(t, s, nil, []*engine.Definition{cleanupDef()})
	ctx := context.Background()
	id := start(t, h, "cleanup")

	clock := time.Now().Add(2 * time.Hour)
	sweeper := hitl.New(s.prompts, h.publisher, discard(),
		hitl.WithExpiry(time.Hour),
		hitl.WithClock(func() time.Time { return clock }),
	)
	sweeper.Bind(h.engine)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inst := h.find(t, id)
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindHITLTimeout, inst.ErrorKind)
}

func TestRecoverRelaunchesInterruptedWork(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	now := time.Now().UTC()

	running := &workflows.Instance{
		ID:          uuid.New(),
		Type:        "cleanup",
		Status:      workflows.StatusRunning,
		CurrentStep: 1,
		TotalSteps:  2,
		Input:       json.RawMessage(`{}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	running.Checkpoint.Record("confirm", json.RawMessage(`{"decision":"DELETE"}`))
	require.NoError(t, s.workflows.Create(ctx, running))

	// Answered before the process died, but never applied to the instance.
	answered := &workflows.Instance{
		ID:         uuid.New(),
		Type:       "cleanup",
		Status:     workflows.StatusAwaitingHITL,
		TotalSteps: 2,
		Input:      json.RawMessage(`{}`),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	pid := uuid.New()
	answered.Checkpoint.PromptID = &pid
	require.NoError(t, s.workflows.Create(ctx, answered))
	require.NoError(t, s.prompts.Create(ctx, hitl.Prompt{
		ID:         pid,
		WorkflowID: answered.ID,
		Step:       "confirm",
		Question:   "Delete past iteration?",
		Options:    []string{"DELETE", "KEEP"},
		Status:     hitl.StatusPending,
		CreatedAt:  now,
	}))
	require.NoError(t, s.prompts.Answer(ctx, pid, "KEEP", now))

	h := newHarness(t, s, nil, []*engine.Definition{cleanupDef()})
	n, err := h.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := h.find(t, running.ID)
	assert.Equal(t, workflows.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"deleted":true}`, string(got.Result))

	got = h.find(t, answered.ID)
	assert.Equal(t, workflows.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"deleted":false}`, string(got.Result))
}

func TestProgressStreamEndsWithCompletion(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	id := start(t, h, "cleanup")

	sub := h.engine.Subscribe(id)
	defer h.engine.Unsubscribe(sub)

	require.NoError(t, h.respond(t, id, "KEEP"))

	var kinds []progress.Kind
	for evt := range sub.Events() {
		kinds = append(kinds, evt.Kind)
	}

	require.NotEmpty(t, kinds)
	assert.Equal(t, progress.KindComplete, kinds[len(kinds)-1])
	assert.Contains(t, kinds, progress.KindProgress)
}

func TestTerminalResultIsArchived(t *testing.T) {
	h := newHarness(t, newStores(), nil, []*engine.Definition{cleanupDef()})
	id := start(t, h, "cleanup")

	exists, err := h.archive.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, h.respond(t, id, "DELETE"))

	rec, err := h.archive.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusCompleted, rec.Status)
	assert.Equal(t, "DELETE", rec.Responses["confirm"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want workflows.ErrorKind
	}{
		{fmt.Errorf("x: %w", engine.ErrValidation), workflows.KindValidation},
		{dispatch.ErrInsufficientResults, workflows.KindInsufficientResults},
		{dispatch.ErrProviderTimeout, workflows.KindProviderError},
		{hitl.ErrHITLTimeout, workflows.KindHITLTimeout},
		{workflows.ErrCancelled, workflows.KindCancelled},
		{errors.New("boom"), workflows.KindFatal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.Classify(tt.err), tt.err.Error())
	}
}
