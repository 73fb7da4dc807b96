package peerlink

// State is the lifecycle of a single link.
//
// Legal transitions:
//
//	New -> Negotiating -> Connected -> Closed
//	any non-terminal   -> Failed
//	any non-terminal   -> Closed
//	Connected -> Negotiating (renegotiation)
//
// Closed and Failed are terminal; a link is never reused after either.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateClosed || s == StateFailed
}
