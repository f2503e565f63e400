package statez

import "github.com/zoobzio/capitan"

// Store lifecycle signals.
var (
	// StoreStarted is emitted when a Store finishes installing its plugins.
	StoreStarted = capitan.NewSignal(
		"statez.store.started",
		"Store started",
	)

	// StoreClosed is emitted when a Store is closed.
	StoreClosed = capitan.NewSignal(
		"statez.store.closed",
		"Store closed",
	)
)

// Commit signals.
var (
	// StoreCommitted is emitted after a value is committed and subscribers
	// have been notified.
	StoreCommitted = capitan.NewSignal(
		"statez.store.committed",
		"Value committed",
	)

	// StoreCommitRejected is emitted when a commit hook vetoes a value.
	StoreCommitRejected = capitan.NewSignal(
		"statez.store.commit.rejected",
		"Commit rejected by hook",
	)

	// StoreAsyncError is emitted when a deferred operation fails outside
	// of any caller's stack, such as a debounced commit.
	StoreAsyncError = capitan.NewSignal(
		"statez.store.async.error",
		"Deferred operation failed",
	)
)

// History signals.
var (
	// HistoryUndone is emitted after a successful undo.
	HistoryUndone = capitan.NewSignal(
		"statez.history.undone",
		"History undo applied",
	)

	// HistoryRedone is emitted after a successful redo.
	HistoryRedone = capitan.NewSignal(
		"statez.history.redone",
		"History redo applied",
	)
)

// Sync signals.
var (
	// SyncPulled is emitted when a value fetched from the remote endpoint
	// replaces the store value.
	SyncPulled = capitan.NewSignal(
		"statez.sync.pulled",
		"Remote value pulled",
	)

	// SyncPushed is emitted when a value is written to the remote endpoint.
	SyncPushed = capitan.NewSignal(
		"statez.sync.pushed",
		"Value pushed to remote",
	)

	// SyncFailed is emitted by the default sync error handler.
	SyncFailed = capitan.NewSignal(
		"statez.sync.failed",
		"Remote synchronization failed",
	)
)

// Persistence signals.
var (
	// PersistLoaded is emitted when a stored value seeds or refreshes the store.
	PersistLoaded = capitan.NewSignal(
		"statez.persist.loaded",
		"Persisted value loaded",
	)

	// PersistWritten is emitted after a value is written to storage.
	PersistWritten = capitan.NewSignal(
		"statez.persist.written",
		"Value persisted",
	)

	// PersistFailed is emitted by the default persist error handler.
	PersistFailed = capitan.NewSignal(
		"statez.persist.failed",
		"Persistence operation failed",
	)
)
