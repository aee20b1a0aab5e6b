package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// Subscription receives a workflow's events from the time it was created.
// The channel is closed after a terminal event or on Unsubscribe.
type Subscription struct {
	id         uint64
	workflowID uuid.UUID
	ch         chan Event
	once       sync.Once
	dropped    atomic.Int64
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// WorkflowID returns the subscribed workflow.
func (s *Subscription) WorkflowID() uuid.UUID {
	return s.workflowID
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Stats reports publisher counters.
type Stats struct {
	Workflows   int   `json:"workflows"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// Publisher is an in-process fan-out of workflow events.
// Publish never blocks on a slow subscriber.
type Publisher struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]map[uint64]*Subscription
	nextID     atomic.Uint64
	bufferSize int
	logger     *slog.Logger

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// New creates a Publisher.
func New(logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		subs:       make(map[uuid.UUID]map[uint64]*Subscription),
		bufferSize: DefaultBufferSize,
		logger:     logger.With("system", "progress"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a new subscriber for workflowID.
func (p *Publisher) Subscribe(workflowID uuid.UUID) *Subscription {
	sub := &Subscription{
		id:         p.nextID.Add(1),
		workflowID: workflowID,
		ch:         make(chan Event, p.bufferSize),
	}

	p.mu.Lock()
	set, ok := p.subs[workflowID]
	if !ok {
		set = make(map[uint64]*Subscription)
		p.subs[workflowID] = set
	}
	set[sub.id] = sub
	p.mu.Unlock()

	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call more than once.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if set, ok := p.subs[sub.workflowID]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(p.subs, sub.workflowID)
		}
	}
	sub.close()
}

// Publish delivers evt to every current subscriber of its workflow.
// A full buffer drops the event for that subscriber only. Terminal events
// evict the oldest buffered event when needed, so every stream ends with one,
// and then close all of the workflow's subscriptions.
// Sends are non-blocking, so the registry lock is held across delivery.
func (p *Publisher) Publish(evt Event) {
	p.published.Add(1)

	if evt.Terminal() {
		p.mu.Lock()
		defer p.mu.Unlock()

		for _, sub := range p.subs[evt.WorkflowID] {
			p.deliverLast(sub, evt)
			sub.close()
		}
		delete(p.subs, evt.WorkflowID)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subs[evt.WorkflowID] {
		p.deliver(sub, evt)
	}
}

func (p *Publisher) deliver(sub *Subscription, evt Event) {
	select {
	case sub.ch <- evt:
		p.delivered.Add(1)
	default:
		sub.dropped.Add(1)
		p.dropped.Add(1)
		p.logger.Warn(
			"subscriber buffer full, event dropped",
			"workflow_id", evt.WorkflowID,
			"kind", evt.Kind,
		)
	}
}

// deliverLast sends a terminal event, evicting buffered events to make room.
// The caller holds the write lock, so no other sender competes for the slot.
func (p *Publisher) deliverLast(sub *Subscription, evt Event) {
	for {
		select {
		case sub.ch <- evt:
			p.delivered.Add(1)
			return
		default:
		}

		select {
		case old := <-sub.ch:
			sub.dropped.Add(1)
			p.dropped.Add(1)
			p.logger.Warn(
				"subscriber buffer full, evicted event for terminal",
				"workflow_id", evt.WorkflowID,
				"kind", old.Kind,
			)
		default:
		}
	}
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	subscribers := 0
	for _, set := range p.subs {
		subscribers += len(set)
	}

	return Stats{
		Workflows:   len(p.subs),
		Subscribers: subscribers,
		Published:   p.published.Load(),
		Delivered:   p.delivered.Load(),
		Dropped:     p.dropped.Load(),
	}
}
