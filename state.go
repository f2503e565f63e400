package statez

// State represents the lifecycle state of a Store.
type State int32

const (
	// StateIdle indicates the Store has been created but not started.
	// Get returns the initial value; Set is rejected.
	StateIdle State = iota

	// StateLive indicates plugins are installed and the Store accepts
	// mutations.
	StateLive

	// StateClosed indicates the Store has been closed. Timers are stopped
	// and further mutations are rejected.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Origin describes why a commit happened. It travels with every commit so
// hooks can tell user mutations apart from replays and external updates.
type Origin int32

const (
	// OriginUser is a mutation issued through Store.Set or Store.Update,
	// including those deferred by debounce or throttle.
	OriginUser Origin = iota

	// OriginUndoRedo is a commit issued by the history plugin while
	// stepping through past or future values.
	OriginUndoRedo

	// OriginRemote is a value received from a remote endpoint.
	OriginRemote

	// OriginStorage is a value read back from a persistence backend,
	// typically after an external process changed it.
	OriginStorage
)

// String returns the string representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginUndoRedo:
		return "undo_redo"
	case OriginRemote:
		return "remote"
	case OriginStorage:
		return "storage"
	default:
		return "unknown"
	}
}
