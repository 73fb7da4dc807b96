package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// Session wraps one live client connection. The relay assigns the id on
// upgrade; it is opaque to clients and never reused.
//
// Writes go through a buffered queue drained by a single writer goroutine, so
// relay dispatch never blocks on a slow client. Delivery is fire-and-forget:
// when the queue is full or the session is closing, the message is dropped.
type Session struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	send chan Message
	done chan struct{}

	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, queueLen int, log *slog.Logger) *Session {
	if queueLen <= 0 {
		queueLen = 1
	}
	return &Session{
		id:   id,
		conn: conn,
		log:  log.With("session_id", id),
		send: make(chan Message, queueLen),
		done: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Send queues msg for delivery. It reports false when the message was dropped
// (queue full or session closing); the relay treats that as the target being
// effectively gone.
func (s *Session) Send(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// writePump owns all writes to the connection: queued messages plus periodic
// pings. It exits when the session closes or a write fails.
func (s *Session) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			payload, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("failed to encode outbound message", "err", err, "type", msg.Type)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// close releases the connection. Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
