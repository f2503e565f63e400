package statez

import (
	"context"
	"sync"
	"time"
)

// DebouncePlugin defers commits until proposals stop arriving for a quiet
// period. Only the latest proposal is committed.
type DebouncePlugin[T any] struct {
	delay     time.Duration
	scheduler Scheduler

	mu      sync.Mutex
	pending *Proposal[T]
	timer   CancelHandle
	gen     uint64
	closed  bool
	next    Setter[T]
	handle  *Handle[T]
}

// Debounce creates a plugin that intercepts Set and Update. Each proposal
// replaces the pending one and restarts the delay; when the delay elapses
// without another proposal, the pending proposal is resolved against the
// value current at that moment and committed.
//
// Set returns nil immediately. Errors from the deferred commit are reported
// through the store's OnError callback and LastError.
//
// A delay of 0 still defers the commit to the scheduler.
func Debounce[T any](delay time.Duration) *DebouncePlugin[T] {
	return &DebouncePlugin[T]{delay: delay}
}

// Scheduler sets the scheduler used for the delay. Default: the store
// scheduler. Must be called before the store starts.
func (p *DebouncePlugin[T]) Scheduler(s Scheduler) *DebouncePlugin[T] {
	p.scheduler = s
	return p
}

// Name implements Plugin.
func (p *DebouncePlugin[T]) Name() string {
	return "debounce"
}

// Setup installs the debouncing interceptor.
func (p *DebouncePlugin[T]) Setup(_ context.Context, h *Handle[T]) error {
	p.handle = h
	if p.scheduler == nil {
		p.scheduler = h.Scheduler()
	}
	h.Intercept(func(next Setter[T]) Setter[T] {
		p.next = next
		return p.propose
	})
	return nil
}

func (p *DebouncePlugin[T]) propose(_ context.Context, prop Proposal[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.pending = &prop
	if p.timer != nil {
		p.timer.Cancel()
	}
	p.gen++
	gen := p.gen
	p.timer = p.scheduler.Schedule(p.delay, func() { p.fire(gen) })
	return nil
}

func (p *DebouncePlugin[T]) fire(gen uint64) {
	prop, ok := p.take(gen)
	if !ok {
		return
	}
	if err := p.next(p.handle.Context(), prop); err != nil {
		p.handle.ReportError(err)
	}
}

// take removes the pending proposal. A gen of 0 takes it unconditionally;
// otherwise only the timer of that generation may take it.
func (p *DebouncePlugin[T]) take(gen uint64) (Proposal[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil || (gen != 0 && gen != p.gen) {
		return Proposal[T]{}, false
	}
	prop := *p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Cancel()
		p.timer = nil
	}
	p.gen++
	return prop, true
}

// Flush commits the pending proposal now, if any, and returns the commit error.
func (p *DebouncePlugin[T]) Flush(ctx context.Context) error {
	prop, ok := p.take(0)
	if !ok {
		return nil
	}
	return p.next(ctx, prop)
}

// Cancel drops the pending proposal. It reports whether one was pending.
func (p *DebouncePlugin[T]) Cancel() bool {
	_, ok := p.take(0)
	return ok
}

// Pending reports whether a proposal is waiting for the delay to elapse.
func (p *DebouncePlugin[T]) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Close commits any pending proposal and rejects further ones.
func (p *DebouncePlugin[T]) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if p.handle == nil {
		return nil
	}
	return p.Flush(p.handle.Context())
}

var (
	_ Installer[int] = (*DebouncePlugin[int])(nil)
	_ Closer         = (*DebouncePlugin[int])(nil)
)
