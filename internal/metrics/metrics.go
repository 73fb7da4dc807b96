package metrics

import "sync"

// Counter names used by the signaling relay.
const (
	SessionsConnected    = "sessions_connected"
	SessionsDisconnected = "sessions_disconnected"
	RoomsCreated         = "rooms_created"
	RoomsDeleted         = "rooms_deleted"
	RoomJoins            = "room_joins"
	RoomLeaves           = "room_leaves"
	RelayedOffers        = "relayed_offers"
	RelayedAnswers       = "relayed_answers"
	RelayedCandidates    = "relayed_candidates"
	ChatBroadcasts       = "chat_broadcasts"
)

// Drop reasons, recorded as "dropped_<reason>".
const (
	DropReasonBadMessage   = "dropped_bad_message"
	DropReasonNoTarget     = "dropped_no_target"
	DropReasonNoRoom       = "dropped_no_room"
	DropReasonRateLimited  = "dropped_rate_limited"
	DropReasonQueueFull    = "dropped_queue_full"
	DropReasonRoomFull     = "dropped_room_full"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type keeps the relay logic testable and feeds the /metrics endpoint.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
