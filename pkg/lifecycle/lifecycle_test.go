package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JaimeStill/compass/pkg/lifecycle"
)

func TestReadiness(t *testing.T) {
	lc := lifecycle.New()
	if lc.Ready() {
		t.Fatal("ready before startup")
	}

	var started atomic.Int32
	for range 3 {
		lc.OnStartup("counter", func(context.Context) error {
			started.Add(1)
			return nil
		})
	}

	if err := lc.WaitForStartup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	if got := started.Load(); got != 3 {
		t.Errorf("startup hooks: got %d, want 3", got)
	}
	if !lc.Ready() {
		t.Error("not ready after startup")
	}

	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if lc.Ready() {
		t.Error("still ready after shutdown")
	}
}

func TestStartupFailure(t *testing.T) {
	lc := lifecycle.New()
	boom := errors.New("boom")

	lc.OnStartup("ok", func(context.Context) error { return nil })
	lc.OnStartup("database", func(context.Context) error { return boom })

	err := lc.WaitForStartup()
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("error %q does not name the hook", err)
	}
	if lc.Ready() {
		t.Error("ready despite failed hook")
	}
}

func TestShutdownDrainsHooksAndWorkers(t *testing.T) {
	lc := lifecycle.New()

	var hook, worker atomic.Bool
	lc.OnShutdown("hook", func() {
		if lc.Context().Err() == nil {
			t.Error("hook ran before cancellation")
		}
		time.Sleep(20 * time.Millisecond)
		hook.Store(true)
	})
	lc.Go("worker", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		worker.Store(true)
	})

	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !hook.Load() || !worker.Load() {
		t.Errorf("shutdown returned early: hook=%v worker=%v", hook.Load(), worker.Load())
	}
	select {
	case <-lc.Done():
	default:
		t.Error("context not cancelled after shutdown")
	}

	if err := lc.Shutdown(time.Second); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestShutdownTimeoutNamesStragglers(t *testing.T) {
	lc := lifecycle.New()

	lc.OnShutdown("fast", func() {})
	for range 2 {
		lc.Go("slow", func(ctx context.Context) {
			<-ctx.Done()
			time.Sleep(500 * time.Millisecond)
		})
	}

	err := lc.Shutdown(50 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "slow(x2)") {
		t.Errorf("error %q does not name slow workers", err)
	}
	if strings.Contains(err.Error(), "fast") {
		t.Errorf("error %q names a finished hook", err)
	}
}
