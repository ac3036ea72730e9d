package transport

// State is the connection state machine:
//
//	Disconnected → Connecting → Subscribed → Disconnected → …
//
// Shutdown is terminal and reached only through Close.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// StatusKind is the caller-facing connection status.
type StatusKind string

const (
	// StatusConnecting: first connection attempt in progress.
	StatusConnecting StatusKind = "connecting"
	// StatusLive: subscribed and the latest snapshot has been applied.
	StatusLive StatusKind = "live"
	// StatusReconnecting: the connection was lost; results are last-known-good.
	StatusReconnecting StatusKind = "reconnecting"
	// StatusError: a connection attempt failed; retrying with backoff.
	StatusError StatusKind = "error"
)

// Status is the value of the connection-status signal.
type Status struct {
	Kind   StatusKind
	Reason string
}

func (s Status) String() string {
	if s.Reason == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ": " + s.Reason
}
