package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/JaimeStill/compass/pkg/backoff"
)

const instrumentationName = "github.com/JaimeStill/compass/internal/dispatch"

// DefaultTaskTimeout applies to tasks that do not set their own timeout.
const DefaultTaskTimeout = 10 * time.Second

// Dispatcher issues provider calls concurrently and collects every outcome.
type Dispatcher struct {
	caller  Caller
	sem     *semaphore.Weighted
	backoff backoff.Strategy
	logger  *slog.Logger
	tracer  trace.Tracer

	taskCounter   metric.Int64Counter
	roundDuration metric.Float64Histogram
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConcurrency caps in-flight provider calls across all rounds.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithBackoff sets the delay strategy between task retries.
func WithBackoff(s backoff.Strategy) Option {
	return func(d *Dispatcher) { d.backoff = s }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithMeter overrides the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) { d.instrument(m) }
}

// New creates a Dispatcher that performs calls through caller.
func New(caller Caller, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		caller:  caller,
		sem:     semaphore.NewWeighted(32),
		backoff: backoff.NewExponential(250*time.Millisecond, 5*time.Second),
		logger:  logger.With("system", "dispatch"),
		tracer:  otel.Tracer(instrumentationName),
	}
	d.instrument(otel.Meter(instrumentationName))

	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) instrument(m metric.Meter) {
	// The otel API returns usable no-op instruments alongside any error.
	d.taskCounter, _ = m.Int64Counter(
		"compass.dispatch.tasks",
		metric.WithDescription("Provider tasks by final status"),
		metric.WithUnit("{task}"),
	)
	d.roundDuration, _ = m.Float64Histogram(
		"compass.dispatch.round.duration",
		metric.WithDescription("Duration of dispatch rounds in seconds"),
		metric.WithUnit("s"),
	)
}

type outcome struct {
	index int
	task  Task
}

// Dispatch runs every task concurrently and returns them, in input order, with
// a terminal status. It returns once: when all tasks finish, when roundTimeout
// elapses (remaining tasks are marked timeout), or when ctx is done (remaining
// tasks are marked error with the context's cause). A zero roundTimeout means
// the round waits for every task.
//
// Calls still in flight at the round deadline are not cancelled; their results
// are discarded. Tasks waiting on a retry delay or a concurrency slot when the
// round ends make no further calls. Cancelling ctx cancels everything.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task, roundTimeout time.Duration) []Task {
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "dispatch.round",
		trace.WithAttributes(
			attribute.Int("dispatch.tasks", len(tasks)),
			attribute.String("dispatch.round_timeout", roundTimeout.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	results := make([]Task, len(tasks))
	for i, t := range tasks {
		t.Status = StatusPending
		t.Result = nil
		t.Err = nil
		t.Attempts = 0
		if t.Timeout <= 0 {
			t.Timeout = DefaultTaskTimeout
		}
		results[i] = t
	}

	if len(results) == 0 {
		return results
	}

	// Buffered to len(tasks) so late senders never block after the round returns.
	done := make(chan outcome, len(results))
	round, endRound := context.WithCancel(ctx)
	defer endRound()

	for i, t := range results {
		go func() {
			done <- outcome{index: i, task: d.run(ctx, round, t)}
		}()
	}

	var deadline <-chan time.Time
	if roundTimeout > 0 {
		timer := time.NewTimer(roundTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	remaining := len(results)
collect:
	for remaining > 0 {
		select {
		case o := <-done:
			results[o.index] = o.task
			remaining--
		case <-deadline:
			d.expire(results, fmt.Errorf("%w: round deadline %s exceeded", ErrProviderTimeout, roundTimeout), StatusTimeout)
			break collect
		case <-ctx.Done():
			d.expire(results, context.Cause(ctx), StatusError)
			break collect
		}
	}
	endRound()

	ok := 0
	for _, t := range results {
		if t.Status == StatusOK {
			ok++
		}
		d.taskCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", t.ProviderID),
			attribute.String("status", string(t.Status)),
		))
	}

	elapsed := time.Since(start)
	d.roundDuration.Record(ctx, elapsed.Seconds())
	span.SetAttributes(attribute.Int("dispatch.succeeded", ok))
	span.SetStatus(codes.Ok, "")

	d.logger.InfoContext(ctx,
		"dispatch round complete",
		"tasks", len(results),
		"succeeded", ok,
		"duration", elapsed,
	)

	return results
}

func (d *Dispatcher) expire(results []Task, cause error, status Status) {
	for i := range results {
		if results[i].Status == StatusPending {
			results[i].Status = status
			results[i].Err = cause
		}
	}
}

// run performs a task with its retry budget and returns its terminal state.
// Provider calls run under ctx; retry delays and slot waits end with round.
func (d *Dispatcher) run(ctx, round context.Context, t Task) Task {
	ctx, span := d.tracer.Start(ctx, "dispatch.task",
		trace.WithAttributes(attribute.String("dispatch.provider", t.ProviderID)),
	)
	defer span.End()

	for {
		t.Attempts++
		result, err := d.call(ctx, round, t)
		if err == nil {
			t.Status = StatusOK
			t.Result = result
			t.Err = nil
			span.SetAttributes(attribute.Int("dispatch.attempts", t.Attempts))
			span.SetStatus(codes.Ok, "")
			return t
		}

		t.Err = err
		if errors.Is(err, ErrProviderTimeout) {
			t.Status = StatusTimeout
		} else {
			t.Status = StatusError
		}

		if t.RetriesRemaining <= 0 || round.Err() != nil {
			break
		}
		t.RetriesRemaining--

		if werr := backoff.Wait(round, d.backoff, t.Attempts); werr != nil {
			if ctx.Err() != nil {
				t.Status = StatusError
				t.Err = context.Cause(ctx)
			}
			break
		}
	}

	span.SetAttributes(attribute.Int("dispatch.attempts", t.Attempts))
	span.RecordError(t.Err)
	span.SetStatus(codes.Error, t.Err.Error())
	return t
}

func (d *Dispatcher) call(ctx, round context.Context, t Task) ([]byte, error) {
	if err := d.sem.Acquire(round, 1); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderError, t.ProviderID, context.Cause(round))
	}
	defer d.sem.Release(1)

	if err := round.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderError, t.ProviderID, context.Cause(round))
	}

	callCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	result, err := d.caller.Call(callCtx, t.ProviderID, t.Request)
	if err == nil {
		return result, nil
	}

	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %s", ErrProviderTimeout, t.ProviderID, t.Timeout)
	}
	if errors.Is(err, ErrProviderTimeout) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrProviderError, t.ProviderID, err)
}
