package statez

import (
	"context"
	"sync"

	"github.com/zoobzio/capitan"
)

// HistoryPlugin records committed values for bounded, linear undo/redo.
type HistoryPlugin[T any] struct {
	maxSize int

	mu       sync.Mutex
	past     *ring[T]
	future   []T // future[0] is the next redo
	stepping bool
	recorded []T // user commits recorded while stepping
	handle   *Handle[T]
}

// History creates a plugin keeping up to maxSize previous values.
// A maxSize of 0 or less disables history: CanUndo and CanRedo stay false.
//
// Only user commits are recorded; undo/redo, remote and storage commits
// pass through untouched. Any user commit clears the redo stack.
func History[T any](maxSize int) *HistoryPlugin[T] {
	return &HistoryPlugin[T]{
		maxSize: maxSize,
		past:    newRing[T](maxSize),
	}
}

// Name implements Plugin.
func (p *HistoryPlugin[T]) Name() string {
	return "history"
}

// Setup installs the history capability on the store.
func (p *HistoryPlugin[T]) Setup(_ context.Context, h *Handle[T]) error {
	p.handle = h
	return h.ProvideHistory(p)
}

// OnCommitted records the previous value of user commits. Values vetoed by
// a hook are never recorded.
func (p *HistoryPlugin[T]) OnCommitted(_ context.Context, c Commit[T]) {
	if c.Origin != OriginUser || p.past == nil {
		return
	}
	p.mu.Lock()
	p.past.push(c.Previous)
	p.future = nil
	if p.stepping {
		p.recorded = append(p.recorded, c.Previous)
	}
	p.mu.Unlock()
}

// Undo restores the most recent past value. It is a no-op when there is
// nothing to undo. If a commit hook rejects the restored value, the history
// is left as it was and the rejection is returned.
func (p *HistoryPlugin[T]) Undo(ctx context.Context) error {
	if p.handle == nil {
		return ErrNotStarted
	}

	p.mu.Lock()
	before := p.past.all()
	prev, ok := p.past.pop()
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.future = append([]T{p.handle.Get()}, p.future...)
	p.begin()
	p.mu.Unlock()

	// Unlocked while committing; OnCommitted takes the lock.
	err := p.handle.Commit(ctx, Value(prev), OriginUndoRedo)
	p.mu.Lock()
	if recorded := p.end(); err != nil {
		p.past.reset(append(before, recorded...))
		if len(recorded) == 0 {
			p.future = p.future[1:]
		}
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	capitan.Emit(ctx, HistoryUndone,
		KeyStore.Field(p.handle.store.name),
	)
	return nil
}

// Redo re-applies the most recently undone value. It is a no-op when there
// is nothing to redo.
func (p *HistoryPlugin[T]) Redo(ctx context.Context) error {
	if p.handle == nil {
		return ErrNotStarted
	}

	p.mu.Lock()
	if len(p.future) == 0 {
		p.mu.Unlock()
		return nil
	}
	next := p.future[0]
	p.future = p.future[1:]
	before := p.past.all()
	p.past.push(p.handle.Get())
	p.begin()
	p.mu.Unlock()

	err := p.handle.Commit(ctx, Value(next), OriginUndoRedo)
	p.mu.Lock()
	if recorded := p.end(); err != nil {
		p.past.reset(append(before, recorded...))
		if len(recorded) == 0 {
			p.future = append([]T{next}, p.future...)
		}
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	capitan.Emit(ctx, HistoryRedone,
		KeyStore.Field(p.handle.store.name),
	)
	return nil
}

// begin starts collecting user commits recorded during an undo or redo
// commit, such as mutations queued by its listeners. Must hold mu.
func (p *HistoryPlugin[T]) begin() {
	p.stepping = true
	p.recorded = nil
}

// end stops collecting and returns what was recorded. A rejected step
// rebuilds past from its snapshot followed by these values. Must hold mu.
func (p *HistoryPlugin[T]) end() []T {
	recorded := p.recorded
	p.stepping = false
	p.recorded = nil
	return recorded
}

// CanUndo reports whether Undo would change the value.
func (p *HistoryPlugin[T]) CanUndo() bool {
	return p.past.len() > 0
}

// CanRedo reports whether Redo would change the value.
func (p *HistoryPlugin[T]) CanRedo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.future) > 0
}

// Past returns the recorded past values, oldest first.
func (p *HistoryPlugin[T]) Past() []T {
	return p.past.all()
}

// Future returns the values available to Redo, next first.
func (p *HistoryPlugin[T]) Future() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, len(p.future))
	copy(out, p.future)
	return out
}

// Clear drops both past and future.
func (p *HistoryPlugin[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.past.clear()
	p.future = nil
}

// MaxSize returns the configured bound on past values.
func (p *HistoryPlugin[T]) MaxSize() int {
	return p.maxSize
}

var (
	_ Observer[int]  = (*HistoryPlugin[int])(nil)
	_ Installer[int] = (*HistoryPlugin[int])(nil)
	_ HistoryOps     = (*HistoryPlugin[int])(nil)
)
