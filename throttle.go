package statez

import (
	"context"
	"sync"
	"time"
)

// ThrottlePlugin commits at most once per window. The first proposal
// commits immediately; proposals during the cooldown are coalesced and the
// latest one commits when the cooldown ends.
type ThrottlePlugin[T any] struct {
	window    time.Duration
	scheduler Scheduler

	mu      sync.Mutex
	pending *Proposal[T]
	cooling bool
	timer   CancelHandle
	closed  bool
	next    Setter[T]
	handle  *Handle[T]
}

// Throttle creates a plugin that intercepts Set and Update.
//
// When not cooling, a proposal commits synchronously, its error is returned
// to the caller, and a cooldown of window starts. While cooling, proposals
// are recorded (latest wins) and Set returns nil. When the cooldown ends, a
// recorded proposal is resolved against the current value, committed, and
// the cooldown restarts; with nothing recorded the cooldown simply ends.
func Throttle[T any](window time.Duration) *ThrottlePlugin[T] {
	return &ThrottlePlugin[T]{window: window}
}

// Scheduler sets the scheduler used for the cooldown. Default: the store
// scheduler. Must be called before the store starts.
func (p *ThrottlePlugin[T]) Scheduler(s Scheduler) *ThrottlePlugin[T] {
	p.scheduler = s
	return p
}

// Name implements Plugin.
func (p *ThrottlePlugin[T]) Name() string {
	return "throttle"
}

// Setup installs the throttling interceptor.
func (p *ThrottlePlugin[T]) Setup(_ context.Context, h *Handle[T]) error {
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

func (p *ThrottlePlugin[T]) propose(ctx context.Context, prop Proposal[T]) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.cooling {
		p.pending = &prop
		p.mu.Unlock()
		return nil
	}
	p.cooling = true
	p.timer = p.scheduler.Schedule(p.window, p.cooldown)
	p.mu.Unlock()

	return p.next(ctx, prop)
}

func (p *ThrottlePlugin[T]) cooldown() {
	p.mu.Lock()
	if p.pending == nil || p.closed {
		p.cooling = false
		p.timer = nil
		p.mu.Unlock()
		return
	}
	prop := *p.pending
	p.pending = nil
	p.timer = p.scheduler.Schedule(p.window, p.cooldown)
	p.mu.Unlock()

	if err := p.next(p.handle.Context(), prop); err != nil {
		p.handle.ReportError(err)
	}
}

// Cooling reports whether a cooldown is in progress.
func (p *ThrottlePlugin[T]) Cooling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cooling
}

// Pending reports whether a proposal is waiting for the cooldown to end.
func (p *ThrottlePlugin[T]) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Close stops the cooldown, commits any recorded proposal and rejects
// further ones.
func (p *ThrottlePlugin[T]) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Cancel()
		p.timer = nil
	}
	p.cooling = false
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if pending == nil || p.handle == nil {
		return nil
	}
	return p.next(p.handle.Context(), *pending)
}

var (
	_ Installer[int] = (*ThrottlePlugin[int])(nil)
	_ Closer         = (*ThrottlePlugin[int])(nil)
)
