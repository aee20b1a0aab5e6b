package dispatch_test

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/pkg/backoff"
)

func newDispatcher(caller dispatch.Caller) *dispatch.Dispatcher {
	return dispatch.New(
		caller,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatch.WithBackoff(backoff.Constant{Interval: time.Millisecond}),
	)
}

func tasksFor(timeout time.Duration, retries int, ids ...string) []dispatch.Task {
	tasks := make([]dispatch.Task, len(ids))
	for i, id := range ids {
		tasks[i] = dispatch.Task{
			ProviderID:       id,
			Request:          json.RawMessage(`{"query":"age verification"}`),
			Timeout:          timeout,
			RetriesRemaining: retries,
		}
	}
	return tasks
}

// hangs blocks until the call context ends.
func hangs(ctx context.Context) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDispatchMixedOutcomes(t *testing.T) {
	caller := dispatch.CallerFunc(func(ctx context.Context, id string, _ json.RawMessage) (json.RawMessage, error) {
		switch id {
		case "eu", "us", "utah":
			return json.RawMessage(fmt.Sprintf(`{"jurisdiction":%q}`, id)), nil
		default:
			return hangs(ctx)
		}
	})

	tasks := tasksFor(20*time.Millisecond, 0, "eu", "us", "utah", "florida", "california")
	results := newDispatcher(caller).Dispatch(context.Background(), tasks, time.Second)

	require.Len(t, results, 5)
	for _, r := range results {
		assert.NotEqual(t, dispatch.StatusPending, r.Status, r.ProviderID)
	}

	agg, err := dispatch.Aggregate(results, dispatch.BestEffort())
	require.NoError(t, err)
	assert.Equal(t, []string{"eu", "us", "utah"}, agg.Succeeded)
	assert.Equal(t, []string{"california", "florida"}, agg.Failed)
	assert.Len(t, agg.Payload, 3)
	assert.Contains(t, agg.Errors["florida"], "provider timeout")
}

func TestDispatchRoundDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	caller := dispatch.CallerFunc(func(ctx context.Context, id string, _ json.RawMessage) (json.RawMessage, error) {
		if id == "fast" {
			return json.RawMessage(`{}`), nil
		}
		<-release
		return json.RawMessage(`{"late":true}`), nil
	})

	start := time.Now()
	results := newDispatcher(caller).Dispatch(
		context.Background(),
		tasksFor(time.Minute, 3, "fast", "slow"),
		50*time.Millisecond,
	)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, dispatch.StatusOK, results[0].Status)
	assert.Equal(t, dispatch.StatusTimeout, results[1].Status)
	assert.ErrorIs(t, results[1].Err, dispatch.ErrProviderTimeout)
	assert.Nil(t, results[1].Result)
}

func TestDispatchRetries(t *testing.T) {
	var calls atomic.Int32
	caller := dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("503 service unavailable")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})

	results := newDispatcher(caller).Dispatch(context.Background(), tasksFor(time.Second, 2, "eu"), time.Second)

	require.Len(t, results, 1)
	assert.Equal(t, dispatch.StatusOK, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, 0, results[0].RetriesRemaining)
}

func TestDispatchRetriesExhausted(t *testing.T) {
	caller := dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("400 bad request")
	})

	results := newDispatcher(caller).Dispatch(context.Background(), tasksFor(time.Second, 1, "eu"), time.Second)

	assert.Equal(t, dispatch.StatusError, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
	assert.ErrorIs(t, results[0].Err, dispatch.ErrProviderError)
}

func TestDispatchCancelled(t *testing.T) {
	cause := errors.New("workflow cancelled")
	ctx, cancel := context.WithCancelCause(context.Background())

	caller := dispatch.CallerFunc(func(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
		return hangs(ctx)
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(cause)
	}()

	results := newDispatcher(caller).Dispatch(ctx, tasksFor(time.Minute, 0, "eu", "us"), 0)

	for _, r := range results {
		assert.Equal(t, dispatch.StatusError, r.Status)
	}
}

func TestDispatchEmpty(t *testing.T) {
	results := newDispatcher(nil).Dispatch(context.Background(), nil, time.Second)
	assert.Empty(t, results)
}

func TestDispatchConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	caller := dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	})

	d := dispatch.New(caller, slog.New(slog.NewTextHandler(io.Discard, nil)), dispatch.WithMaxConcurrency(2))
	results := d.Dispatch(context.Background(), tasksFor(time.Second, 0, "a", "b", "c", "d", "e"), 0)

	agg, err := dispatch.Aggregate(results, dispatch.RequireQuorum(5))
	require.NoError(t, err)
	assert.Len(t, agg.Succeeded, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatchNoRetryAfterRoundDeadline(t *testing.T) {
	var calls atomic.Int32
	caller := dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("503 service unavailable")
	})

	d := dispatch.New(
		caller,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		dispatch.WithBackoff(backoff.Constant{Interval: 100 * time.Millisecond}),
	)
	results := d.Dispatch(context.Background(), tasksFor(time.Second, 3, "eu"), 30*time.Millisecond)

	require.Len(t, results, 1)
	assert.Equal(t, dispatch.StatusTimeout, results[0].Status)
	atRound := calls.Load()

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, atRound, calls.Load(), "provider called after the round returned")
}

func TestDispatchNoCallAfterRoundWhileQueued(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	caller := dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`{}`), nil
	})

	d := dispatch.New(caller, slog.New(slog.NewTextHandler(io.Discard, nil)), dispatch.WithMaxConcurrency(1))
	results := d.Dispatch(context.Background(), tasksFor(time.Second, 0, "eu", "us"), 30*time.Millisecond)

	for _, r := range results {
		assert.Equal(t, dispatch.StatusTimeout, r.Status)
	}

	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "queued task called after the round returned")
}
