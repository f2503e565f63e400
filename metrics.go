package statez

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key store events.
type MetricsProvider interface {
	// OnCommit is called after a value is committed and subscribers have
	// been notified. Duration covers the hook chain and notification.
	OnCommit(origin Origin, duration time.Duration)

	// OnCommitRejected is called when a commit hook vetoes a value.
	OnCommitRejected(plugin string, duration time.Duration)

	// OnNotify is called once per commit with the number of listeners notified.
	OnNotify(listeners int)

	// OnAsyncError is called when a deferred operation fails.
	OnAsyncError(err error)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnCommit(_ Origin, _ time.Duration)         {}
func (NoOpMetricsProvider) OnCommitRejected(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnNotify(_ int)                             {}
func (NoOpMetricsProvider) OnAsyncError(_ error)                       {}
