package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vidmesh/vidmesh/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHarness struct {
	srv     *Server
	metrics *metrics.Metrics
	ts      *httptest.Server
	url     string
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	}
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testHarness{
		srv:     srv,
		metrics: cfg.Metrics,
		ts:      ts,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *testHarness) dial(t *testing.T) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg Message) {
	c.t.Helper()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("send %s: %v", msg.Type, err)
	}
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.t.Fatalf("send raw: %v", err)
	}
}

// recv reads the next message, failing the test on timeout.
func (c *testClient) recv() Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.t.Fatalf("recv decode: %v", err)
	}
	return msg
}

func (c *testClient) expect(typ Type) Message {
	c.t.Helper()
	msg := c.recv()
	if msg.Type != typ {
		c.t.Fatalf("got %s message %+v, want %s", msg.Type, msg, typ)
	}
	return msg
}

// waitFor polls cond until it holds, for asserting on state the server updates
// asynchronously after a websocket close.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestSignalingSession(t *testing.T) {
	h := newTestHarness(t, Config{})

	// First joiner sees an empty room.
	a := h.dial(t)
	a.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	if msg := a.expect(TypeExistingUsers); len(msg.SessionIDs) != 0 {
		t.Fatalf("first joiner existing users = %v, want none", msg.SessionIDs)
	}

	// Second joiner sees the first; the first is told about the second.
	b := h.dial(t)
	b.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	existing := b.expect(TypeExistingUsers)
	if len(existing.SessionIDs) != 1 {
		t.Fatalf("second joiner existing users = %v, want one", existing.SessionIDs)
	}
	aID := existing.SessionIDs[0]
	joined := a.expect(TypeUserJoined)
	bID := joined.SessionID
	if bID == "" || bID == aID {
		t.Fatalf("user-joined session id %q (a is %q)", bID, aID)
	}

	// Joiner initiates: b offers, a answers, candidates trickle both ways.
	// Payloads must arrive verbatim with the sender stamped by the relay.
	b.send(Message{Type: TypeOffer, Target: aID, Sender: "spoofed", SDP: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})
	offer := a.expect(TypeOffer)
	if offer.Sender != bID {
		t.Fatalf("offer sender = %q, want %q", offer.Sender, bID)
	}
	if string(offer.SDP) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("offer sdp altered: %s", offer.SDP)
	}

	a.send(Message{Type: TypeAnswer, Target: bID, SDP: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)})
	answer := b.expect(TypeAnswer)
	if answer.Sender != aID {
		t.Fatalf("answer sender = %q, want %q", answer.Sender, aID)
	}

	a.send(Message{Type: TypeICECandidate, Target: bID, Candidate: json.RawMessage(`{"candidate":"candidate:1"}`)})
	if cand := b.expect(TypeICECandidate); cand.Sender != aID {
		t.Fatalf("candidate sender = %q, want %q", cand.Sender, aID)
	}

	// Chat fans out to the whole room, sender included, with a server clock.
	a.send(Message{Type: TypeSendChat, Text: "hello"})
	for _, c := range []*testClient{a, b} {
		chat := c.expect(TypeChat)
		if chat.Sender != aID || chat.Text != "hello" {
			t.Fatalf("chat = %+v", chat)
		}
		if chat.Timestamp != 1700000000000 {
			t.Fatalf("chat ts = %d, want server-stamped clock", chat.Timestamp)
		}
	}

	// Disconnect counts as leaving the room.
	a.conn.Close()
	if left := b.expect(TypeUserLeft); left.SessionID != aID {
		t.Fatalf("user-left session id = %q, want %q", left.SessionID, aID)
	}
	waitFor(t, func() bool {
		members := h.srv.Rooms().Members("demo")
		return len(members) == 1 && members[0] == bID
	})
}

func TestJoinFullRoomRejected(t *testing.T) {
	h := newTestHarness(t, Config{MaxMembersPerRoom: 1})

	a := h.dial(t)
	a.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	a.expect(TypeExistingUsers)

	b := h.dial(t)
	b.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	if msg := b.expect(TypeError); msg.Reason == "" {
		t.Fatalf("error message without reason: %+v", msg)
	}
	if got := h.metrics.Get(metrics.DropReasonRoomFull); got != 1 {
		t.Fatalf("room full drops = %d, want 1", got)
	}
	// The rejected joiner is not a member and may retry elsewhere.
	b.send(Message{Type: TypeJoinRoom, RoomID: "other"})
	b.expect(TypeExistingUsers)
}

func TestMalformedMessageSignalsError(t *testing.T) {
	h := newTestHarness(t, Config{})

	c := h.dial(t)
	c.sendRaw(`{"type":"join-room"}`)
	c.expect(TypeError)

	// The connection survives a malformed message.
	c.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	c.expect(TypeExistingUsers)
}

func TestChatWithoutRoomDropped(t *testing.T) {
	h := newTestHarness(t, Config{})

	c := h.dial(t)
	c.send(Message{Type: TypeSendChat, Text: "shout into the void"})

	waitFor(t, func() bool {
		return h.metrics.Get(metrics.DropReasonNoRoom) == 1
	})
}

func TestRelayToUnknownTargetDropped(t *testing.T) {
	h := newTestHarness(t, Config{})

	c := h.dial(t)
	c.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	c.expect(TypeExistingUsers)

	c.send(Message{Type: TypeOffer, Target: "no-such-session", SDP: json.RawMessage(`{}`)})
	waitFor(t, func() bool {
		return h.metrics.Get(metrics.DropReasonNoTarget) == 1
	})
}

func TestRateLimitClosesConnection(t *testing.T) {
	h := newTestHarness(t, Config{MessagesPerSecond: 2})

	c := h.dial(t)
	c.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	c.expect(TypeExistingUsers)

	for i := 0; i < 20; i++ {
		if err := c.conn.WriteJSON(Message{Type: TypeLeaveRoom}); err != nil {
			break
		}
	}
	waitFor(t, func() bool {
		return h.metrics.Get(metrics.DropReasonRateLimited) >= 1
	})
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	h := newTestHarness(t, Config{MaxMessageBytes: 256})

	c := h.dial(t)
	c.send(Message{Type: TypeJoinRoom, RoomID: "demo"})
	c.expect(TypeExistingUsers)

	c.sendRaw(`{"type":"send-chat","text":"` + strings.Repeat("x", 1024) + `"}`)
	waitFor(t, func() bool {
		return h.metrics.Get(metrics.SessionsDisconnected) == 1
	})
}
