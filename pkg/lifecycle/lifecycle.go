// Package lifecycle sequences process startup, background workers and
// graceful shutdown around a single cancellable context.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ReadinessChecker reports whether a subsystem is ready to serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// Coordinator owns the root context of the process. Startup hooks run
// immediately, shutdown hooks run once the context is cancelled, and
// workers started with Go run until then. Shutdown waits for every
// shutdown hook and worker.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	startup sync.WaitGroup
	stop    sync.WaitGroup
	ready   atomic.Bool
	once    sync.Once

	mu       sync.Mutex
	failures []error
	pending  map[string]int
}

// New creates a Coordinator with a cancellable context.
func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]int),
	}
}

// Context returns the coordinator's context, cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Done is shorthand for Context().Done().
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// OnStartup runs fn concurrently. A non-nil error is reported by
// WaitForStartup and keeps the coordinator from becoming ready.
func (c *Coordinator) OnStartup(name string, fn func(ctx context.Context) error) {
	c.startup.Go(func() {
		if err := fn(c.ctx); err != nil {
			c.mu.Lock()
			c.failures = append(c.failures, fmt.Errorf("%s: %w", name, err))
			c.mu.Unlock()
		}
	})
}

// OnShutdown runs fn after the context is cancelled.
func (c *Coordinator) OnShutdown(name string, fn func()) {
	c.track(name, func() {
		<-c.ctx.Done()
		fn()
	})
}

// Go runs fn as a background worker. fn must return once ctx is done.
func (c *Coordinator) Go(name string, fn func(ctx context.Context)) {
	c.track(name, func() { fn(c.ctx) })
}

func (c *Coordinator) track(name string, fn func()) {
	c.mu.Lock()
	c.pending[name]++
	c.mu.Unlock()

	c.stop.Go(func() {
		defer func() {
			c.mu.Lock()
			if c.pending[name]--; c.pending[name] == 0 {
				delete(c.pending, name)
			}
			c.mu.Unlock()
		}()
		fn()
	})
}

// Ready reports whether startup completed without failures.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// WaitForStartup blocks until every startup hook has returned. It marks the
// coordinator ready when none failed and otherwise returns their errors.
func (c *Coordinator) WaitForStartup() error {
	c.startup.Wait()

	c.mu.Lock()
	err := errors.Join(c.failures...)
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// Shutdown cancels the context and waits up to timeout for shutdown hooks
// and workers. On timeout the error names the ones still running. Calls
// after the first only wait.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.once.Do(func() {
		c.ready.Store(false)
		c.cancel()
	})

	done := make(chan struct{})
	go func() {
		c.stop.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v, still running: %v", timeout, c.running())
	}
}

func (c *Coordinator) running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.pending))
	for name, n := range c.pending {
		if n > 1 {
			name = fmt.Sprintf("%s(x%d)", name, n)
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
