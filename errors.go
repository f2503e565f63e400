package statez

import (
	"errors"
	"fmt"
)

// Store lifecycle errors.
var (
	// ErrNotStarted is returned when a Store is mutated before Start.
	ErrNotStarted = errors.New("statez: store not started")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("statez: store already started")

	// ErrClosed is returned when a closed Store or plugin is mutated.
	ErrClosed = errors.New("statez: store closed")

	// ErrCapabilityTaken is returned when two plugins provide the same
	// capability slot (history, persistence, remote).
	ErrCapabilityTaken = errors.New("statez: capability already provided")
)

// Plugin errors.
var (
	// ErrInvalid wraps validation failures reported by the validate plugin.
	ErrInvalid = errors.New("statez: invalid value")

	// ErrUnexpectedStatus is wrapped by SyncError when the remote endpoint
	// answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("statez: unexpected status")

	// ErrResponsePath is wrapped by SyncError when the configured response
	// path does not exist in the response body.
	ErrResponsePath = errors.New("statez: response path not found")

	// ErrWatchUnsupported is returned when external watching is requested
	// on a Storage that does not implement WatchableStorage.
	ErrWatchUnsupported = errors.New("statez: storage does not support watching")

	// ErrDeleteUnsupported is returned by Clear when the Storage does not
	// implement Deleter.
	ErrDeleteUnsupported = errors.New("statez: storage does not support delete")
)

// HookError is returned by Set when a commit hook rejects a proposed value.
// The store value is left unchanged and no listener is notified.
type HookError struct {
	Plugin string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("commit rejected by %s: %v", e.Plugin, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// SyncError describes a failed exchange with the sync plugin's endpoint.
// Op is one of "pull", "push", "encode" or "decode". Status is zero when
// no response was received.
type SyncError struct {
	Op       string
	Endpoint string
	Status   int
	Err      error
}

func (e *SyncError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sync %s %s: status %d: %v", e.Op, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("sync %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
