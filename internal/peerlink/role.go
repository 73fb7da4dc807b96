// Package peerlink manages one WebRTC connection per remote room member: the
// negotiation state machine, trickle ICE plumbing and a heartbeat data
// channel. Signaling transport is the caller's concern; links only emit and
// consume session descriptions and candidates.
package peerlink

// Role fixes which side of a link drives negotiation.
type Role int

const (
	// RoleInitiator creates the offer and the heartbeat channel.
	RoleInitiator Role = iota
	// RoleResponder waits for the remote offer and answers it.
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// RoleForJoiner encodes the glare-avoidance rule: the session that just
// joined a room initiates toward every member already present, so two sides
// can never offer to each other at the same time.
func RoleForJoiner(isJoiner bool) Role {
	if isJoiner {
		return RoleInitiator
	}
	return RoleResponder
}
