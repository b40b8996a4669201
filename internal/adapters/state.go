package adapters

// ConnState is the upstream connection state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnEvent drives the connection state machine.
type ConnEvent int

const (
	// Retry starts a connection attempt. The listener fires it on startup and
	// after each reconnect delay.
	Retry ConnEvent = iota
	DialSucceeded
	DialFailed
	StreamEnded
)

// Action tells the listener what to do after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionDial
	// ActionRead resets per-connection context and reads frames.
	ActionRead
	// ActionWait sleeps for the reconnect delay, then fires Retry.
	ActionWait
)

// Transition returns the next state and the action to perform. Events that
// do not apply to the current state leave it unchanged with ActionNone.
// There is no terminal state.
func Transition(s ConnState, e ConnEvent) (ConnState, Action) {
	switch {
	case s == Disconnected && e == Retry:
		return Connecting, ActionDial
	case s == Connecting && e == DialSucceeded:
		return Connected, ActionRead
	case s == Connecting && e == DialFailed:
		return Disconnected, ActionWait
	case s == Connected && e == StreamEnded:
		return Disconnected, ActionWait
	default:
		return s, ActionNone
	}
}
