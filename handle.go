package statez

import (
	"context"
	"fmt"
)

// Handle is the capability surface a plugin receives in Setup. It exposes
// the low-level commit path, interception of the public entry point, and
// the store's augmentation slots.
type Handle[T any] struct {
	store  *Store[T]
	plugin Plugin[T]
	index  int
}

// Get returns the current store value.
func (h *Handle[T]) Get() T {
	return h.store.Get()
}

// Version returns the current store version.
func (h *Handle[T]) Version() uint64 {
	return h.store.Version()
}

// Context returns the store context. It is canceled when the store closes.
func (h *Handle[T]) Context() context.Context {
	return h.store.ctx
}

// Scheduler returns the store scheduler.
func (h *Handle[T]) Scheduler() Scheduler {
	return h.store.scheduler
}

// Commit runs p through the commit hook chain with the given origin,
// bypassing every interceptor.
func (h *Handle[T]) Commit(ctx context.Context, p Proposal[T], origin Origin) error {
	return h.store.commit(ctx, p, origin)
}

// Replace sets v as the store value without running commit hooks or
// observers. Subscribers are notified.
func (h *Handle[T]) Replace(ctx context.Context, v T) error {
	_, err := h.store.replace(ctx, v, nil)
	return err
}

// ReplaceIf behaves like Replace but only applies v while the store version
// still equals version, so a value fetched in the background never
// overwrites a commit made meanwhile. It reports whether v was applied.
func (h *Handle[T]) ReplaceIf(ctx context.Context, version uint64, v T) (bool, error) {
	return h.store.replace(ctx, v, &version)
}

// Intercept wraps the store's public entry point. Interceptors installed by
// later plugins wrap those installed by earlier ones, and their plugins are
// closed first when the store closes.
func (h *Handle[T]) Intercept(wrap Interceptor[T]) {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = wrap(s.entry)
	s.wrappers = append(s.wrappers, h.index)
}

// ReportError routes an error raised outside any caller's stack to the
// store's asynchronous error channel.
func (h *Handle[T]) ReportError(err error) {
	h.store.reportError(h.store.ctx, fmt.Errorf("%s: %w", h.plugin.Name(), err))
}

// ProvideHistory installs the history capability.
func (h *Handle[T]) ProvideHistory(ops HistoryOps) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history != nil {
		return fmt.Errorf("%w: history", ErrCapabilityTaken)
	}
	s.history = ops
	return nil
}

// ProvidePersistence installs the persistence capability.
func (h *Handle[T]) ProvidePersistence(ops PersistenceOps) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistence != nil {
		return fmt.Errorf("%w: persistence", ErrCapabilityTaken)
	}
	s.persistence = ops
	return nil
}

// ProvideRemote installs the remote sync capability.
func (h *Handle[T]) ProvideRemote(ops RemoteOps) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote != nil {
		return fmt.Errorf("%w: remote", ErrCapabilityTaken)
	}
	s.remote = ops
	return nil
}
