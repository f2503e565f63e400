// Package testing provides test utilities and helpers for statez stores,
// plugins and storage backends.
package testing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/statez"
)

// TestSettings is a standard value type for testing statez stores.
// It implements statez.Validator.
type TestSettings struct {
	Theme string `yaml:"theme" json:"theme"`
	Size  int    `yaml:"size" json:"size"`
}

// Validate implements statez.Validator.
func (s TestSettings) Validate() error {
	if s.Size < 0 || s.Size > 72 {
		return errors.New("size must be between 0 and 72")
	}
	if s.Theme == "" {
		return errors.New("theme is required")
	}
	return nil
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForValue waits until the store value satisfies check or timeout occurs.
func WaitForValue[T any](t *testing.T, s *statez.Store[T], timeout time.Duration, check func(T) bool) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return check(s.Get())
	})
}

// RequireState fails the test immediately if the store is not in the expected state.
func RequireState[T any](t *testing.T, s *statez.Store[T], expected statez.State) {
	t.Helper()
	if got := s.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// RequireValue fails the test immediately if the store value is not want.
func RequireValue[T comparable](t *testing.T, s *statez.Store[T], want T) {
	t.Helper()
	if got := s.Get(); got != want {
		t.Fatalf("expected value %v, got %v", want, got)
	}
}

// NewTestStore creates and starts a store on a ManualScheduler. The store
// is closed when the test ends.
func NewTestStore[T any](t *testing.T, initial T, plugins ...statez.Plugin[T]) (*statez.Store[T], *statez.ManualScheduler) {
	t.Helper()
	sched := statez.NewManualScheduler()
	s := statez.New(initial, plugins...).Scheduler(sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, sched
}

// Recorder records every value committed to a store.
type Recorder[T any] struct {
	mu          sync.Mutex
	values      []T
	unsubscribe func()
}

// Record subscribes a new Recorder to s.
func Record[T any](s *statez.Store[T]) *Recorder[T] {
	r := &Recorder[T]{}
	r.unsubscribe = s.Subscribe(func(_ context.Context, _, curr T) {
		r.mu.Lock()
		r.values = append(r.values, curr)
		r.mu.Unlock()
	})
	return r
}

// Values returns the recorded values in commit order.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of recorded commits.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Last returns the most recent value, if any.
func (r *Recorder[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		var zero T
		return zero, false
	}
	return r.values[len(r.values)-1], true
}

// Stop unsubscribes the recorder.
func (r *Recorder[T]) Stop() {
	r.unsubscribe()
}
