package signaling

import (
	"errors"
	"sync"
)

// ErrRoomFull is returned by Join when the room has reached its member cap.
var ErrRoomFull = errors.New("room is full")

// Directory is the single source of truth for room membership.
//
// All mutation goes through Join/Leave; callers never touch member sets
// directly. A directory-wide mutex linearizes join/leave interleavings so the
// "members before insert" snapshot handed to a joiner can never observe a
// concurrent joiner or a half-removed leaver.
type Directory struct {
	maxMembers int

	mu      sync.Mutex
	rooms   map[string][]string // ordered member lists, join order preserved
	session map[string]string   // session id -> room id
}

// NewDirectory creates an empty directory. maxMembers <= 0 means unlimited.
func NewDirectory(maxMembers int) *Directory {
	return &Directory{
		maxMembers: maxMembers,
		rooms:      make(map[string][]string),
		session:    make(map[string]string),
	}
}

// Join inserts sessionID into roomID, creating the room if needed.
//
// The returned existing slice is the room's membership before the insert, in
// join order: exactly the sessions the joiner must initiate negotiation
// toward, and never containing the joiner itself.
//
// A session can only be in one room; joining while already in another room
// leaves the old room first, and that room's id is returned in autoLeft so the
// relay can broadcast the departure ("" when there was none).
func (d *Directory) Join(sessionID, roomID string) (existing []string, autoLeft string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.session[sessionID]; ok {
		if prev == roomID {
			// Rejoining the current room is a no-op; report the members the
			// session already knows about, minus itself.
			return d.membersExceptLocked(roomID, sessionID), "", nil
		}
		d.removeLocked(sessionID, prev)
		autoLeft = prev
	}

	members := d.rooms[roomID]
	if d.maxMembers > 0 && len(members) >= d.maxMembers {
		return nil, autoLeft, ErrRoomFull
	}

	existing = append([]string(nil), members...)
	d.rooms[roomID] = append(members, sessionID)
	d.session[sessionID] = roomID
	return existing, autoLeft, nil
}

// Leave removes sessionID from its room, deleting the room once empty.
// Idempotent: leaving while not in any room reports ok=false and changes
// nothing.
func (d *Directory) Leave(sessionID string) (roomID string, deleted bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roomID, ok = d.session[sessionID]
	if !ok {
		return "", false, false
	}
	deleted = d.removeLocked(sessionID, roomID)
	return roomID, deleted, true
}

// RoomOf reports the room sessionID is currently in.
func (d *Directory) RoomOf(sessionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	roomID, ok := d.session[sessionID]
	return roomID, ok
}

// Members returns the room's member list in join order, copied.
func (d *Directory) Members(roomID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.rooms[roomID]...)
}

// MembersExcept returns the room's members in join order minus one session.
func (d *Directory) MembersExcept(roomID, sessionID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.membersExceptLocked(roomID, sessionID)
}

// Rooms reports the number of live rooms.
func (d *Directory) Rooms() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

func (d *Directory) membersExceptLocked(roomID, sessionID string) []string {
	members := d.rooms[roomID]
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != sessionID {
			out = append(out, id)
		}
	}
	return out
}

// removeLocked removes the session from the room and deletes the room when it
// becomes empty, reporting whether it did.
func (d *Directory) removeLocked(sessionID, roomID string) (deleted bool) {
	members := d.rooms[roomID]
	for i, id := range members {
		if id == sessionID {
			d.rooms[roomID] = append(members[:i], members[i+1:]...)
			break
		}
	}
	delete(d.session, sessionID)
	if len(d.rooms[roomID]) == 0 {
		delete(d.rooms, roomID)
		return true
	}
	return false
}
