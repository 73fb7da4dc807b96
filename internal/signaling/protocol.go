package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Type discriminates the signaling wire envelope.
type Type string

const (
	// Client -> server.
	TypeJoinRoom  Type = "join-room"
	TypeLeaveRoom Type = "leave-room"
	TypeSendChat  Type = "send-chat"

	// Server -> client.
	TypeExistingUsers Type = "existing-users"
	TypeUserJoined    Type = "user-joined"
	TypeUserLeft      Type = "user-left"
	TypeChat          Type = "chat"
	TypeError         Type = "error-msg"

	// Bidirectional, relayed verbatim by target.
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
)

// Message is the signaling envelope. Exactly one Type-dependent subset of
// fields is populated; SDP and Candidate are opaque payloads the relay never
// decodes.
type Message struct {
	Type Type `json:"type"`

	RoomID     string   `json:"roomId,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	// An absent sessionIds means the empty list: the first joiner into a
	// room receives existing-users with no ids.
	SessionIDs []string `json:"sessionIds,omitempty"`

	Target string `json:"target,omitempty"`
	Sender string `json:"sender,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`

	Reason string `json:"reason,omitempty"`
}

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingRoomID  = errors.New("missing room id")
	ErrMissingTarget  = errors.New("missing target")
	ErrMissingPayload = errors.New("missing payload")
	ErrEmptyText      = errors.New("empty chat text")
)

// Parse decodes a client envelope strictly: unknown fields and trailing data
// are rejected so protocol drift is caught at the boundary.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.ValidateInbound(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ValidateInbound checks the fields a client must supply for each type.
// Sender is deliberately not required: the relay stamps it from the session so
// clients cannot impersonate each other.
func (m Message) ValidateInbound() error {
	switch m.Type {
	case TypeJoinRoom:
		if m.RoomID == "" {
			return ErrMissingRoomID
		}
	case TypeLeaveRoom:
		// No fields.
	case TypeSendChat:
		if m.Text == "" {
			return ErrEmptyText
		}
	case TypeOffer, TypeAnswer:
		if m.Target == "" {
			return ErrMissingTarget
		}
		if len(m.SDP) == 0 {
			return ErrMissingPayload
		}
	case TypeICECandidate:
		if m.Target == "" {
			return ErrMissingTarget
		}
		if len(m.Candidate) == 0 {
			return ErrMissingPayload
		}
	case TypeExistingUsers, TypeUserJoined, TypeUserLeft, TypeChat, TypeError:
		return fmt.Errorf("%w: %q is server-to-client only", ErrUnknownType, m.Type)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

func existingUsersMessage(sessionIDs []string) Message {
	if sessionIDs == nil {
		sessionIDs = []string{}
	}
	return Message{Type: TypeExistingUsers, SessionIDs: sessionIDs}
}

func userJoinedMessage(sessionID string) Message {
	return Message{Type: TypeUserJoined, SessionID: sessionID}
}

func userLeftMessage(sessionID string) Message {
	return Message{Type: TypeUserLeft, SessionID: sessionID}
}

func chatMessage(sender, text string, ts int64) Message {
	return Message{Type: TypeChat, Sender: sender, Text: text, Timestamp: ts}
}

func errorMessage(reason string) Message {
	return Message{Type: TypeError, Reason: reason}
}
