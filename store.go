package statez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// DefaultName is the store name used in signals when none is configured.
const DefaultName = "store"

// Store holds a single authoritative value, notifies subscribers after each
// commit, and runs every mutation through its plugin pipeline.
type Store[T any] struct {
	name      string
	plugins   []Plugin[T]
	clock     clockz.Clock
	scheduler Scheduler
	metrics   MetricsProvider
	onError   func(error)

	state        atomic.Int32
	closing      atomic.Bool
	current      atomic.Pointer[T]
	version      atomic.Uint64
	lastError    atomic.Pointer[error]
	errorHistory *ring[error]

	mu          sync.RWMutex
	started     bool
	entry       Setter[T]
	subscribers []subscriber[T]
	nextSubID   uint64
	chain       pipz.Chainable[Commit[T]]
	observers   []Observer[T]
	wrappers    []int
	history     HistoryOps
	persistence PersistenceOps
	remote      RemoteOps

	// commitMu serializes commits; commit N is fully notified before N+1.
	commitMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type subscriber[T any] struct {
	id uint64
	fn Listener[T]
}

// processorPlugin is implemented by plugins that carry their own commit
// processor, such as those built with Apply and Effect.
type processorPlugin[T any] interface {
	processor() pipz.Chainable[Commit[T]]
}

// hookProcessor adapts a CommitHook into a step of the commit chain. The
// step identity carries the plugin name so a rejection can be attributed.
func hookProcessor[T any](name string, hook CommitHook[T]) pipz.Chainable[Commit[T]] {
	return pipz.Apply(pipz.NewIdentity(name, "Commit hook"), func(ctx context.Context, c Commit[T]) (Commit[T], error) {
		next, err := hook.OnCommit(ctx, c)
		if err != nil {
			return c, err
		}
		c.Next = next
		return c, nil
	})
}

// New creates a Store holding initial and extended by plugins, applied in
// the given order.
//
// Instance configuration uses chainable methods before calling Start().
//
// Example:
//
//	store := statez.New[int](0,
//	    statez.History[int](50),
//	    statez.Debounce[int](200*time.Millisecond),
//	).Name("counter")
//
//	if err := store.Start(ctx); err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	_ = store.Set(ctx, 5)
func New[T any](initial T, plugins ...Plugin[T]) *Store[T] {
	s := &Store[T]{
		name:    DefaultName,
		plugins: plugins,
		clock:   clockz.RealClock,
		done:    make(chan struct{}),
	}
	s.current.Store(&initial)
	s.state.Store(int32(StateIdle))
	return s
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Name sets the store name reported in signals. Must be called before Start().
func (s *Store[T]) Name(name string) *Store[T] {
	s.name = name
	return s
}

// Clock sets the clock used for timing measurements and for the default
// scheduler. Must be called before Start().
func (s *Store[T]) Clock(clock clockz.Clock) *Store[T] {
	s.clock = clock
	return s
}

// Scheduler sets the scheduler timing plugins use unless they were given
// their own. Default: a ClockScheduler on the store clock.
// Must be called before Start().
func (s *Store[T]) Scheduler(scheduler Scheduler) *Store[T] {
	s.scheduler = scheduler
	return s
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (s *Store[T]) Metrics(provider MetricsProvider) *Store[T] {
	s.metrics = provider
	return s
}

// OnError sets a callback for errors raised outside any caller's stack,
// such as a debounced commit rejected by a hook. Must be called before Start().
func (s *Store[T]) OnError(fn func(error)) *Store[T] {
	s.onError = fn
	return s
}

// ErrorHistorySize sets the number of recent asynchronous errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (s *Store[T]) ErrorHistorySize(n int) *Store[T] {
	s.errorHistory = newRing[error](n)
	return s
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start runs every plugin's Initialize in order, each receiving the previous
// output, then every plugin's Setup in order, and makes the store live.
//
// Plugins receive a context derived from ctx. Canceling ctx stops storage
// watchers and in-flight sync requests; Close cancels it as well.
//
// Start can only be called once. Subsequent calls return ErrAlreadyStarted.
func (s *Store[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.State() == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.started = true
	if s.scheduler == nil {
		s.scheduler = NewClockScheduler(s.clock)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.entry = s.commitUser
	var steps []pipz.Chainable[Commit[T]]
	for _, p := range s.plugins {
		switch hook := p.(type) {
		case processorPlugin[T]:
			steps = append(steps, hook.processor())
		case CommitHook[T]:
			steps = append(steps, hookProcessor(p.Name(), hook))
		}
		if obs, ok := p.(Observer[T]); ok {
			s.observers = append(s.observers, obs)
		}
	}
	s.chain = pipz.NewSequence(pipz.NewIdentity(s.name+".commit", "Commit hook chain"), steps...)
	s.mu.Unlock()

	value := s.Get()
	for _, p := range s.plugins {
		initializer, ok := p.(Initializer[T])
		if !ok {
			continue
		}
		next, err := initializer.Initialize(s.ctx, value)
		if err != nil {
			s.abort()
			return fmt.Errorf("initialize %s: %w", p.Name(), err)
		}
		value = next
	}
	s.current.Store(&value)

	for i, p := range s.plugins {
		inst, ok := p.(Installer[T])
		if !ok {
			continue
		}
		if err := inst.Setup(s.ctx, &Handle[T]{store: s, plugin: p, index: i}); err != nil {
			s.abort()
			return fmt.Errorf("setup %s: %w", p.Name(), err)
		}
	}

	s.state.Store(int32(StateLive))
	capitan.Emit(ctx, StoreStarted,
		KeyStore.Field(s.name),
	)
	return nil
}

// abort tears down a store whose Start failed.
func (s *Store[T]) abort() {
	s.state.Store(int32(StateClosed))
	s.cancel()
	close(s.done)
}

// Close closes plugins in two passes and then stops the store context and
// rejects further mutations. Plugins that installed an interceptor close
// first, outermost to innermost, so each flushes deferred commits through
// the interceptors beneath it. Every other plugin closes afterwards in
// registration order and observes those commits. Close is idempotent.
func (s *Store[T]) Close() error {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		close(s.done)
		return nil
	}
	if s.State() == StateClosed || !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.RLock()
	wrappers := append([]int(nil), s.wrappers...)
	s.mu.RUnlock()

	var errs []error
	closed := make([]bool, len(s.plugins))
	closePlugin := func(i int) {
		if closed[i] {
			return
		}
		closed[i] = true
		p := s.plugins[i]
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
			}
		}
	}
	for i := len(wrappers) - 1; i >= 0; i-- {
		closePlugin(wrappers[i])
	}
	for i := range s.plugins {
		closePlugin(i)
	}

	s.state.Store(int32(StateClosed))
	s.cancel()
	close(s.done)

	capitan.Emit(context.Background(), StoreClosed,
		KeyStore.Field(s.name),
	)
	return errors.Join(errs...)
}

// State returns the lifecycle state of the store.
func (s *Store[T]) State() State {
	return State(s.state.Load())
}

// -----------------------------------------------------------------------------
// Public Surface
// -----------------------------------------------------------------------------

// Get returns the last committed value. It never blocks on a commit in
// progress and has no side effects.
func (s *Store[T]) Get() T {
	return *s.current.Load()
}

// Version returns the number of values committed since Start.
func (s *Store[T]) Version() uint64 {
	return s.version.Load()
}

// Set proposes v. Without timing plugins the commit completes, and every
// listener has run, before Set returns. A hook rejection is returned as a
// *HookError and leaves the value unchanged.
func (s *Store[T]) Set(ctx context.Context, v T) error {
	return s.propose(ctx, Value(v))
}

// Update proposes the result of fn applied to the value current at commit
// time. Deferred commits resolve fn when they fire, not when Update is called.
func (s *Store[T]) Update(ctx context.Context, fn Updater[T]) error {
	return s.propose(ctx, Update(fn))
}

func (s *Store[T]) propose(ctx context.Context, p Proposal[T]) error {
	switch s.State() {
	case StateIdle:
		return ErrNotStarted
	case StateClosed:
		return ErrClosed
	}
	s.mu.RLock()
	entry := s.entry
	s.mu.RUnlock()
	return entry(ctx, p)
}

// Subscribe registers fn to run after every commit, in registration order.
// The returned function removes the listener and is safe to call repeatedly.
//
// Listeners run while the commit is in progress. A listener that mutates the
// store must pass along the context it was given; that mutation is applied
// once the current commit has notified everyone.
func (s *Store[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// History returns the undo/redo capability if a history plugin is installed.
func (s *Store[T]) History() (HistoryOps, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history, s.history != nil
}

// Persistence returns the persistence capability if a persist plugin is installed.
func (s *Store[T]) Persistence() (PersistenceOps, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistence, s.persistence != nil
}

// Remote returns the remote sync capability if a sync plugin is installed.
func (s *Store[T]) Remote() (RemoteOps, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote, s.remote != nil
}

// LastError returns the last asynchronous error, or nil if none occurred.
func (s *Store[T]) LastError() error {
	ptr := s.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns recent asynchronous errors, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (s *Store[T]) ErrorHistory() []error {
	return s.errorHistory.all()
}

// -----------------------------------------------------------------------------
// Commit Engine
// -----------------------------------------------------------------------------

type commitKey struct{}

// commitFrame marks a commit in progress. Mutations issued with a context
// carrying the frame are queued on it and applied by the goroutine that
// owns the frame once the current commit completes.
type commitFrame struct {
	owner any
	mu    sync.Mutex
	queue []func(context.Context) error
	done  bool
}

func (f *commitFrame) enqueue(job func(context.Context) error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.queue = append(f.queue, job)
	return true
}

func (f *commitFrame) next() (func(context.Context) error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		f.done = true
		return nil, false
	}
	job := f.queue[0]
	f.queue = f.queue[1:]
	return job, true
}

// run executes job under the commit lock, or queues it when ctx belongs to
// a commit of this store already in progress.
func (s *Store[T]) run(ctx context.Context, job func(context.Context) error) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	if f, ok := ctx.Value(commitKey{}).(*commitFrame); ok && f.owner == any(s) {
		if f.enqueue(job) {
			return nil
		}
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	frame := &commitFrame{owner: s}
	fctx := context.WithValue(ctx, commitKey{}, frame)
	err := job(fctx)
	for {
		queued, ok := frame.next()
		if !ok {
			break
		}
		if qerr := queued(fctx); qerr != nil {
			s.reportError(ctx, qerr)
		}
	}
	return err
}

// commitUser is the innermost Setter: the commit chain for user mutations.
func (s *Store[T]) commitUser(ctx context.Context, p Proposal[T]) error {
	return s.commit(ctx, p, OriginUser)
}

func (s *Store[T]) commit(ctx context.Context, p Proposal[T], origin Origin) error {
	return s.run(ctx, func(ctx context.Context) error {
		return s.apply(ctx, p, origin)
	})
}

// apply runs the hook chain and, if every hook accepts, commits the result
// and notifies. Must be called under commitMu.
func (s *Store[T]) apply(ctx context.Context, p Proposal[T], origin Origin) error {
	start := s.clock.Now()
	prev := s.Get()
	next := p.Resolve(prev)
	version := s.version.Load() + 1

	out, err := s.chain.Process(ctx, Commit[T]{
		Next:     next,
		Previous: prev,
		Origin:   origin,
		Version:  version,
	})
	if err != nil {
		plugin, cause := rejection[T](err)
		capitan.Emit(ctx, StoreCommitRejected,
			KeyStore.Field(s.name),
			KeyPlugin.Field(plugin),
			KeyOrigin.Field(origin.String()),
			KeyError.Field(cause.Error()),
		)
		if s.metrics != nil {
			s.metrics.OnCommitRejected(plugin, s.clock.Since(start))
		}
		return &HookError{Plugin: plugin, Err: cause}
	}
	next = out.Next

	s.current.Store(&next)
	s.version.Store(version)

	s.notify(ctx, prev, next)

	c := Commit[T]{Next: next, Previous: prev, Origin: origin, Version: version}
	for _, o := range s.observers {
		o.OnCommitted(ctx, c)
	}

	capitan.Emit(ctx, StoreCommitted,
		KeyStore.Field(s.name),
		KeyOrigin.Field(origin.String()),
		KeyVersion.Field(int(version)), //nolint:gosec // version is a commit counter
	)
	if s.metrics != nil {
		s.metrics.OnCommit(origin, s.clock.Since(start))
	}
	return nil
}

// rejection extracts the vetoing plugin and its error from a commit chain
// failure. The innermost identity on the path is the step that failed.
func rejection[T any](err error) (string, error) {
	var perr *pipz.Error[Commit[T]]
	if !errors.As(err, &perr) {
		return "", err
	}
	plugin := ""
	if n := len(perr.Path); n > 0 {
		plugin = perr.Path[n-1].Name()
	}
	if perr.Err == nil {
		return plugin, err
	}
	return plugin, perr.Err
}

// replace sets v without running hooks or observers. Subscribers are still
// notified. When expected is non-nil, the replacement only happens if the
// store version still equals *expected.
func (s *Store[T]) replace(ctx context.Context, v T, expected *uint64) (bool, error) {
	applied := false
	err := s.run(ctx, func(ctx context.Context) error {
		current := s.version.Load()
		if expected != nil && current != *expected {
			return nil
		}
		prev := s.Get()
		s.current.Store(&v)
		s.version.Store(current + 1)
		s.notify(ctx, prev, v)
		applied = true
		return nil
	})
	return applied, err
}

func (s *Store[T]) notify(ctx context.Context, prev, curr T) {
	s.mu.RLock()
	subs := make([]subscriber[T], len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(ctx, prev, curr)
	}
	if s.metrics != nil {
		s.metrics.OnNotify(len(subs))
	}
}

// reportError records an error raised outside any caller's stack.
func (s *Store[T]) reportError(ctx context.Context, err error) {
	e := err
	s.lastError.Store(&e)
	s.errorHistory.push(err)

	capitan.Emit(ctx, StoreAsyncError,
		KeyStore.Field(s.name),
		KeyError.Field(err.Error()),
	)
	if s.metrics != nil {
		s.metrics.OnAsyncError(err)
	}
	if s.onError != nil {
		s.onError(err)
	}
}
