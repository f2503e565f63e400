package statez

import "context"

// Plugin is the unit of store extension. A plugin only needs a name; its
// behavior comes from the optional interfaces it implements:
//
//   - Initializer runs once at Start and may transform the initial value.
//   - Installer runs once at Start, after every Initializer, and receives
//     the store Handle to install interceptors and capabilities.
//   - CommitHook runs on every commit and may transform or veto the value.
//   - Observer runs after every commit and its notifications.
//   - Closer runs when the store closes.
//
// Plugins run in the order they were given to New.
type Plugin[T any] interface {
	Name() string
}

// Initializer transforms the initial value before the store goes live,
// for example by loading a persisted value. Each Initializer receives the
// previous one's output.
type Initializer[T any] interface {
	Initialize(ctx context.Context, value T) (T, error)
}

// Installer attaches a plugin to a store.
type Installer[T any] interface {
	Setup(ctx context.Context, h *Handle[T]) error
}

// CommitHook transforms or vetoes a proposed value. Returning an error
// aborts the whole commit: the value is unchanged and nobody is notified.
type CommitHook[T any] interface {
	OnCommit(ctx context.Context, c Commit[T]) (T, error)
}

// Observer is notified after a commit has been applied and subscribers
// have run. Observers cannot veto.
type Observer[T any] interface {
	OnCommitted(ctx context.Context, c Commit[T])
}

// Closer releases plugin resources when the store closes.
type Closer interface {
	Close() error
}

// Commit carries a proposed (or, for observers, applied) transition.
type Commit[T any] struct {
	// Next is the proposed value. Hooks return a possibly transformed
	// copy; for observers it is the committed value.
	Next T

	// Previous is the value committed before this transition.
	Previous T

	// Origin describes why the commit happened.
	Origin Origin

	// Version is the store version this commit produces.
	Version uint64
}

// Updater derives a new value from the current one.
type Updater[T any] func(prev T) T

// Proposal is a value waiting to be committed: either a literal or an
// Updater resolved against whatever value is current at commit time.
type Proposal[T any] struct {
	value  T
	update Updater[T]
}

// Value creates a literal proposal.
func Value[T any](v T) Proposal[T] {
	return Proposal[T]{value: v}
}

// Update creates a proposal resolved against the current value at commit time.
func Update[T any](fn Updater[T]) Proposal[T] {
	return Proposal[T]{update: fn}
}

// IsUpdate reports whether the proposal is an Updater.
func (p Proposal[T]) IsUpdate() bool {
	return p.update != nil
}

// Resolve produces the proposed value given the current one.
func (p Proposal[T]) Resolve(current T) T {
	if p.update != nil {
		return p.update(current)
	}
	return p.value
}

// Setter is the store's mutate entry point.
type Setter[T any] func(ctx context.Context, p Proposal[T]) error

// Interceptor wraps the mutate entry point. It decides whether and when
// next is called; next eventually reaches the commit chain.
type Interceptor[T any] func(next Setter[T]) Setter[T]

// Listener is notified synchronously after each commit.
type Listener[T any] func(ctx context.Context, prev, curr T)

// HistoryOps is the capability installed by the history plugin.
type HistoryOps interface {
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	CanUndo() bool
	CanRedo() bool
}

// PersistenceOps is the capability installed by the persist plugin.
type PersistenceOps interface {
	Flush(ctx context.Context) error
	Clear(ctx context.Context) error
	Rehydrate(ctx context.Context) error
}

// RemoteOps is the capability installed by the sync plugin.
type RemoteOps interface {
	Pull(ctx context.Context) error
	Flush(ctx context.Context) error
	Ready() <-chan struct{}
}
