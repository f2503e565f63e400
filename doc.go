/*
Package statez provides a reactive value store extended by a plugin
pipeline that can transform, observe, defer, or synchronize commits.

statez is designed to be embedded within services and tools that hold a
single piece of shared state: settings, feature flags, an editor buffer,
a session. Stores are configured by chaining methods before Start.

# Basic Usage

Create a store with plugins and start it:

	store := statez.New[Settings](Settings{Theme: "light"},
	    statez.Validate[Settings](),
	    statez.History[Settings](50),
	    statez.Persist[Settings](storage, "settings"),
	).Name("settings")

	if err := store.Start(ctx); err != nil {
	    return err
	}
	defer store.Close()

	unsubscribe := store.Subscribe(func(ctx context.Context, prev, curr Settings) {
	    render(curr)
	})
	defer unsubscribe()

	err := store.Update(ctx, func(s Settings) Settings {
	    s.Theme = "dark"
	    return s
	})

# Commits

Set and Update flow through two stages. Interceptors, installed by timing
plugins, decide whether and when a proposal reaches the commit chain. The
commit chain runs every CommitHook in order; any hook may transform the
value or veto it. Only when every hook accepts is the value committed,
after which listeners run in registration order and then Observers.

Commits never interleave: every listener of commit N has returned before
commit N+1 starts. A listener that calls Set with the context it was given
has its mutation applied right after the current commit completes.

# Plugins

History - bounded undo/redo:

	h := statez.History[Doc](100)
	// ...
	_ = h.Undo(ctx)

Debounce - commit the latest proposal after a quiet period:

	statez.Debounce[string](300 * time.Millisecond)

Throttle - commit at most once per window, coalescing in between:

	statez.Throttle[Position](16 * time.Millisecond)

Sync - seed from an HTTP endpoint and push debounced writes:

	statez.Sync[Settings]("https://api.example.com/settings").Retry(3, time.Second)

Persist - load from and write to a Storage:

	statez.Persist[Settings](statez.NewMemoryStorage(), "settings")

Storage backends for files, Redis, NATS, etcd, Consul, ZooKeeper,
PostgreSQL and Kubernetes ConfigMaps live under pkg/.

# Testing

Inject a ManualScheduler to control time:

	sched := statez.NewManualScheduler()
	store := statez.New[int](0, statez.Debounce[int](50*time.Millisecond)).Scheduler(sched)
	_ = store.Start(ctx)

	_ = store.Set(ctx, 5)
	sched.Advance(50 * time.Millisecond)
	// store.Get() == 5

# Observability

The store and plugins emit capitan signals (see signals.go) and accept a
MetricsProvider.
*/
package statez
