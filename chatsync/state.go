package chatsync

import "time"

// ConnectionState represents the current state of the live channel.
type ConnectionState int

const (
	// StateIdle means Open has never been called.
	StateIdle ConnectionState = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateOpen means the channel is open and frames can be sent.
	StateOpen

	// StateClosedNormal means the channel closed with a normal or going-away
	// code, or was closed by the user. No reconnect is scheduled.
	StateClosedNormal

	// StateRetrying means the channel dropped abnormally and a reconnect is
	// scheduled.
	StateRetrying

	// StateTerminalFailure means reconnect attempts are exhausted.
	StateTerminalFailure
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedNormal:
		return "closed_normal"
	case StateRetrying:
		return "retrying"
	case StateTerminalFailure:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// Active reports whether the channel is open or on its way there.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateOpen || s == StateRetrying
}

// LifecycleKind tags a StateEvent with the channel notification that caused it.
type LifecycleKind int

const (
	LifecycleTransition LifecycleKind = iota
	LifecycleOpened
	LifecycleClosed
	LifecycleError
)

// StateEvent represents a state change event.
type StateEvent struct {
	Kind     LifecycleKind
	OldState ConnectionState
	NewState ConnectionState
	Attempt  int
	Delay    time.Duration // set when a reconnect is scheduled
	Code     int           // close code, for LifecycleClosed
	Reason   string
	Error    error // Optional error that caused the state change
}

// ConnectionStatus is a snapshot of the connection manager.
type ConnectionStatus struct {
	State     ConnectionState
	Attempt   int
	LastError error
}
