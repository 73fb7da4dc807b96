// Package signaling implements the room-scoped WebSocket signaling relay.
//
// The relay tracks which sessions are members of which rooms and forwards
// connection-negotiation messages (SDP offers/answers, ICE candidates) between
// them. It never inspects or carries media; SDP and candidate payloads are
// opaque to it.
package signaling
