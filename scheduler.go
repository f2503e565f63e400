package statez

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// CancelHandle revokes a scheduled callback.
type CancelHandle interface {
	// Cancel prevents the callback from running. It reports whether the
	// callback was still pending; false means it already ran or was
	// already canceled.
	Cancel() bool
}

// Scheduler runs callbacks after a delay. Timing plugins use it for every
// deferred commit so that time can be injected in tests.
//
// A delay of zero or less still defers the callback; Schedule never runs
// fn on the caller's stack.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) CancelHandle
}

// ClockScheduler schedules callbacks on timers created from a clockz.Clock.
// Callbacks run on their own goroutine.
type ClockScheduler struct {
	clock clockz.Clock
}

// NewClockScheduler creates a scheduler backed by the given clock.
// Use clockz.RealClock in production and clockz.NewFakeClock() in tests.
func NewClockScheduler(clock clockz.Clock) *ClockScheduler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &ClockScheduler{clock: clock}
}

// Schedule runs fn once delay has elapsed on the scheduler's clock.
func (s *ClockScheduler) Schedule(delay time.Duration, fn func()) CancelHandle {
	if delay < 0 {
		delay = 0
	}
	h := &timerHandle{stop: make(chan struct{})}
	timer := s.clock.NewTimer(delay)

	go func() {
		select {
		case <-timer.C():
			if h.done.CompareAndSwap(false, true) {
				fn()
			}
		case <-h.stop:
			timer.Stop()
		}
	}()

	return h
}

type timerHandle struct {
	done atomic.Bool
	stop chan struct{}
}

func (h *timerHandle) Cancel() bool {
	if h.done.CompareAndSwap(false, true) {
		close(h.stop)
		return true
	}
	return false
}

// ManualScheduler is a virtual-time scheduler. Callbacks only run when
// Advance is called, on the caller's goroutine, in due-time order.
// Useful for deterministic tests of debounce, throttle and sync timing.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	owner *ManualScheduler
	due   time.Duration
	seq   uint64
	fn    func()
	done  bool
}

// NewManualScheduler creates a ManualScheduler at virtual time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Schedule registers fn to run once virtual time reaches now+delay.
func (s *ManualScheduler) Schedule(delay time.Duration, fn func()) CancelHandle {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTask{owner: s, due: s.now + delay, seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves virtual time forward by d, running every callback that
// becomes due. Callbacks scheduled while advancing run too if they fall
// within the window. Advance(0) runs callbacks that are already due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		idx := -1
		for i, t := range s.tasks {
			if t.due > target {
				continue
			}
			if idx < 0 || t.due < s.tasks[idx].due ||
				(t.due == s.tasks[idx].due && t.seq < s.tasks[idx].seq) {
				idx = i
			}
		}
		if idx < 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		t := s.tasks[idx]
		s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
		t.done = true
		s.now = t.due
		s.mu.Unlock()

		t.fn()
	}
}

// Now returns the elapsed virtual time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of callbacks waiting to run.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (t *manualTask) Cancel() bool {
	s := t.owner
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, other := range s.tasks {
		if other == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	return true
}

var (
	_ Scheduler = (*ClockScheduler)(nil)
	_ Scheduler = (*ManualScheduler)(nil)
)
