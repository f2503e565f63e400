package statez

import "github.com/zoobzio/capitan"

// Field keys for store and plugin events.
var (
	// KeyStore is the configured name of the Store.
	KeyStore = capitan.NewStringKey("store")

	// KeyOrigin is the origin of a commit (user, undo_redo, remote, storage).
	KeyOrigin = capitan.NewStringKey("origin")

	// KeyPlugin is the name of the plugin involved in the event.
	KeyPlugin = capitan.NewStringKey("plugin")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDuration is the time an operation took.
	KeyDuration = capitan.NewDurationKey("duration")

	// KeyEndpoint is the remote endpoint of the sync plugin.
	KeyEndpoint = capitan.NewStringKey("endpoint")

	// KeyKey is the storage key used by the persist plugin.
	KeyKey = capitan.NewStringKey("key")

	// KeyStatus is the HTTP status code of a sync request.
	KeyStatus = capitan.NewIntKey("status")

	// KeyVersion is the store version after a commit.
	KeyVersion = capitan.NewIntKey("version")
)
