package signaling

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vidmesh/vidmesh/internal/metrics"
)

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxMessageBytes   int64
	MessagesPerSecond int
	SendQueueLen      int
	MaxMembersPerRoom int

	// Now is the clock used for chat timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Server relays signaling messages between room members. It is stateless with
// respect to message payloads: offers, answers and candidates pass through
// verbatim, routed only by their target session id.
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *Registry
	rooms    *Directory
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.WSIdleTimeout <= 0 {
		cfg.WSIdleTimeout = 60 * time.Second
	}
	if cfg.WSPingInterval <= 0 {
		cfg.WSPingInterval = 20 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		registry: NewRegistry(),
		rooms:    NewDirectory(cfg.MaxMembersPerRoom),
		upgrader: websocket.Upgrader{
			// Origin enforcement happens in the HTTP layer's origin policy
			// before the upgrade reaches this handler.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Rooms exposes the directory for inspection (readyz, tests).
func (s *Server) Rooms() *Directory { return s.rooms }

// Sessions reports the number of live connections.
func (s *Server) Sessions() int { return s.registry.Len() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newSession(uuid.NewString(), conn, s.cfg.SendQueueLen, s.log)
	s.registry.Add(sess)
	s.metrics.Inc(metrics.SessionsConnected)
	s.log.Debug("session connected", "session_id", sess.ID(), "remote_addr", r.RemoteAddr)

	go sess.writePump(s.cfg.WSPingInterval)
	s.readLoop(sess)
	s.disconnect(sess)
}

func (s *Server) readLoop(sess *Session) {
	conn := sess.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessagesPerSecond)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		if limiter != nil && !limiter.Allow() {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			sess.log.Warn("closing session: signaling rate limit exceeded")
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := Parse(data)
		if err != nil {
			s.metrics.Inc(metrics.DropReasonBadMessage)
			sess.log.Debug("rejected signaling message", "err", err)
			sess.Send(errorMessage(err.Error()))
			continue
		}

		s.handleMessage(sess, msg)
	}
}

func (s *Server) handleMessage(sess *Session, msg Message) {
	switch msg.Type {
	case TypeJoinRoom:
		s.handleJoin(sess, msg.RoomID)
	case TypeLeaveRoom:
		s.handleLeave(sess)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		s.relay(sess, msg)
	case TypeSendChat:
		s.broadcastChat(sess, msg.Text)
	default:
		// Parse already rejected unknown and server-to-client types.
	}
}

// handleJoin implements the join sequence: snapshot the room's members before
// inserting the joiner, tell the joiner who was already there, insert, then
// announce the joiner to everyone else. The snapshot+insert is atomic in the
// Directory so concurrent joiners can neither miss nor double-count each other.
func (s *Server) handleJoin(sess *Session, roomID string) {
	existing, autoLeft, err := s.rooms.Join(sess.ID(), roomID)

	// Single-room policy: joining while in another room leaves it first.
	if autoLeft != "" {
		s.metrics.Inc(metrics.RoomLeaves)
		remaining := s.rooms.Members(autoLeft)
		if len(remaining) == 0 {
			s.metrics.Inc(metrics.RoomsDeleted)
		}
		for _, member := range remaining {
			s.sendTo(member, userLeftMessage(sess.ID()))
		}
		s.log.Debug("session moved rooms", "session_id", sess.ID(), "from_room", autoLeft, "to_room", roomID)
	}

	if err != nil {
		s.metrics.Inc(metrics.DropReasonRoomFull)
		sess.Send(errorMessage("room is full"))
		return
	}

	if len(existing) == 0 {
		s.metrics.Inc(metrics.RoomsCreated)
	}
	s.metrics.Inc(metrics.RoomJoins)

	sess.Send(existingUsersMessage(existing))
	for _, member := range existing {
		s.sendTo(member, userJoinedMessage(sess.ID()))
	}
	s.log.Debug("session joined room", "session_id", sess.ID(), "room_id", roomID, "existing_members", len(existing))
}

// handleLeave removes the session from its room and announces the departure.
// Leaving while not in a room is a no-op.
func (s *Server) handleLeave(sess *Session) {
	roomID, deleted, ok := s.rooms.Leave(sess.ID())
	if !ok {
		return
	}
	s.metrics.Inc(metrics.RoomLeaves)
	if deleted {
		s.metrics.Inc(metrics.RoomsDeleted)
		s.log.Debug("room deleted", "room_id", roomID)
		return
	}
	for _, member := range s.rooms.Members(roomID) {
		s.sendTo(member, userLeftMessage(sess.ID()))
	}
}

// relay forwards a negotiation message to its target verbatim. The sender
// field is stamped from the session so clients cannot impersonate each other.
// An unresolvable target is silently dropped: the target's own disconnect
// notification is the authoritative signal.
func (s *Server) relay(sess *Session, msg Message) {
	msg.Sender = sess.ID()

	target, ok := s.registry.Get(msg.Target)
	if !ok {
		s.metrics.Inc(metrics.DropReasonNoTarget)
		sess.log.Debug("dropping relay message: unknown target", "type", msg.Type, "target", msg.Target)
		return
	}
	if !target.Send(msg) {
		s.metrics.Inc(metrics.DropReasonQueueFull)
		return
	}

	switch msg.Type {
	case TypeOffer:
		s.metrics.Inc(metrics.RelayedOffers)
	case TypeAnswer:
		s.metrics.Inc(metrics.RelayedAnswers)
	case TypeICECandidate:
		s.metrics.Inc(metrics.RelayedCandidates)
	}
}

// broadcastChat stamps a timestamp and fans the message out to the sender's
// whole room, sender included. Chat from a session that is not in a room is
// dropped.
func (s *Server) broadcastChat(sess *Session, text string) {
	roomID, ok := s.rooms.RoomOf(sess.ID())
	if !ok {
		s.metrics.Inc(metrics.DropReasonNoRoom)
		sess.log.Debug("dropping chat: session not in a room")
		return
	}

	msg := chatMessage(sess.ID(), text, s.cfg.Now().UnixMilli())
	for _, member := range s.rooms.Members(roomID) {
		s.sendTo(member, msg)
	}
	s.metrics.Inc(metrics.ChatBroadcasts)
}

// disconnect reaps a session whose read loop has ended: the session leaves its
// room exactly as an explicit leave would, then the connection is released.
func (s *Server) disconnect(sess *Session) {
	s.registry.Remove(sess.ID())
	s.handleLeave(sess)
	sess.close()
	s.metrics.Inc(metrics.SessionsDisconnected)
	s.log.Debug("session disconnected", "session_id", sess.ID())
}

func (s *Server) sendTo(sessionID string, msg Message) {
	target, ok := s.registry.Get(sessionID)
	if !ok {
		s.metrics.Inc(metrics.DropReasonNoTarget)
		return
	}
	if !target.Send(msg) {
		s.metrics.Inc(metrics.DropReasonQueueFull)
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
