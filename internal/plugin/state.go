package plugin

// State represents the lifecycle state of a plugin instance.
type State int

// Plugin states.
const (
	// StateUnloaded - Instance exists but its manifest has not passed validation.
	StateUnloaded State = iota

	// StateValidated - Manifest validated against the host.
	StateValidated

	// StateInitialized - Entry point loaded and initialize(context) returned.
	StateInitialized

	// StateActive - activate() returned; the plugin is running.
	StateActive

	// StateDeactivated - Torn down by the host. Manager state is released.
	StateDeactivated

	// StateFailed - Initialization or activation failed. Terminal.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateValidated:
		return "validated"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateDeactivated:
		return "deactivated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible. A new load
// requires a fresh instance.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateDeactivated
}

// IsRunning reports whether plugin code has been loaded and not torn down.
func (s State) IsRunning() bool {
	return s == StateInitialized || s == StateActive
}
