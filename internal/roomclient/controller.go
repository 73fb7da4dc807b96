package roomclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vidmesh/vidmesh/internal/peerlink"
	"github.com/vidmesh/vidmesh/internal/signaling"
)

// ErrDisconnected is returned by Run when the relay connection drops.
var ErrDisconnected = errors.New("disconnected from signaling server")

// Media is the local capture collaborator. Toggling tracks is a local
// concern: it never triggers renegotiation, remotes simply receive silence or
// frozen frames while a track is disabled.
type Media interface {
	Start() error
	Stop()
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
}

// NopMedia satisfies Media for headless peers.
type NopMedia struct{}

func (NopMedia) Start() error         { return nil }
func (NopMedia) Stop()                {}
func (NopMedia) SetAudioEnabled(bool) {}
func (NopMedia) SetVideoEnabled(bool) {}

type Config struct {
	Client     *Client
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
	Media      Media

	// OnChat fires for every room chat message, own messages included.
	OnChat func(sender, text string, sentAt time.Time)
	// OnPeerState mirrors link state changes for UI or logging.
	OnPeerState func(remoteID string, state peerlink.State)
}

// Controller runs one room membership: it joins, builds a link per remote
// member, routes relayed negotiation messages into the right link and tears
// links down as members leave.
//
// The joiner-initiates rule shapes everything here: existing-users is the
// only trigger for initiator links, and an offer from an unknown remote is
// the only trigger for responder links. user-joined needs no action at all.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	client *Client
	links  *peerlink.Set

	mu     sync.Mutex
	roomID string
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Media == nil {
		cfg.Media = NopMedia{}
	}
	return &Controller{
		cfg:    cfg,
		log:    cfg.Logger,
		client: cfg.Client,
		links:  peerlink.NewSet(),
	}
}

// Join starts local media and asks the relay for room membership. The
// existing-users reply drives link creation in the event loop.
func (c *Controller) Join(roomID string) error {
	if err := c.cfg.Media.Start(); err != nil {
		// Media loss degrades the session, it does not block joining.
		c.log.Warn("starting local media failed", "err", err)
	}

	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()

	return c.client.Send(signaling.Message{Type: signaling.TypeJoinRoom, RoomID: roomID})
}

// Leave tells the relay, tears down every link and stops local media.
// Safe to call when not in a room.
func (c *Controller) Leave() {
	c.mu.Lock()
	inRoom := c.roomID != ""
	c.roomID = ""
	c.mu.Unlock()

	if inRoom {
		_ = c.client.Send(signaling.Message{Type: signaling.TypeLeaveRoom})
	}
	c.links.CloseAll()
	c.cfg.Media.Stop()
}

// SendChat broadcasts text to the room. The echo of our own message arrives
// through OnChat like everyone else's.
func (c *Controller) SendChat(text string) error {
	return c.client.Send(signaling.Message{Type: signaling.TypeSendChat, Text: text})
}

func (c *Controller) SetAudioEnabled(enabled bool) { c.cfg.Media.SetAudioEnabled(enabled) }
func (c *Controller) SetVideoEnabled(enabled bool) { c.cfg.Media.SetVideoEnabled(enabled) }

// Peers lists remote session ids with a tracked link.
func (c *Controller) Peers() []string {
	return c.links.Remotes()
}

// Run processes relay messages until the context ends or the connection
// drops. It always leaves the room on the way out.
func (c *Controller) Run(ctx context.Context) error {
	defer c.Leave()

	for {
		select {
		case msg, ok := <-c.client.Incoming():
			if !ok {
				return ErrDisconnected
			}
			c.handle(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) handle(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeExistingUsers:
		// We just joined: initiate toward everyone already in the room.
		for _, remoteID := range msg.SessionIDs {
			c.initiate(remoteID)
		}

	case signaling.TypeUserJoined:
		// The joiner initiates toward us; our responder link is created when
		// their offer arrives.
		c.log.Debug("member joined", "remote_id", msg.SessionID)

	case signaling.TypeUserLeft:
		c.log.Debug("member left", "remote_id", msg.SessionID)
		c.links.Drop(msg.SessionID)

	case signaling.TypeOffer:
		c.handleOffer(msg)

	case signaling.TypeAnswer:
		link, ok := c.links.Get(msg.Sender)
		if !ok {
			c.log.Warn("dropping answer from unknown remote", "remote_id", msg.Sender)
			return
		}
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(msg.SDP, &sdp); err != nil {
			c.log.Warn("undecodable answer", "remote_id", msg.Sender, "err", err)
			return
		}
		if err := link.HandleAnswer(sdp); err != nil {
			c.log.Warn("applying answer failed", "remote_id", msg.Sender, "err", err)
		}

	case signaling.TypeICECandidate:
		c.handleCandidate(msg)

	case signaling.TypeChat:
		if c.cfg.OnChat != nil {
			c.cfg.OnChat(msg.Sender, msg.Text, time.UnixMilli(msg.Timestamp))
		}

	case signaling.TypeError:
		c.log.Warn("relay reported an error", "reason", msg.Reason)
	}
}

// initiate builds an initiator link toward remoteID and starts negotiation.
func (c *Controller) initiate(remoteID string) {
	link, created, err := c.links.Ensure(remoteID, func() (*peerlink.Link, error) {
		return c.newLink(remoteID, peerlink.RoleInitiator)
	})
	if err != nil {
		c.log.Error("creating initiator link failed", "remote_id", remoteID, "err", err)
		return
	}
	if !created {
		return
	}
	if err := link.Start(); err != nil {
		c.log.Error("starting negotiation failed", "remote_id", remoteID, "err", err)
		c.links.Drop(remoteID)
	}
}

func (c *Controller) handleOffer(msg signaling.Message) {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(msg.SDP, &sdp); err != nil {
		c.log.Warn("undecodable offer", "remote_id", msg.Sender, "err", err)
		return
	}

	// An offer from an unknown remote is a new joiner reaching out; reuse the
	// live link for a renegotiation instead.
	link, _, err := c.links.Ensure(msg.Sender, func() (*peerlink.Link, error) {
		return c.newLink(msg.Sender, peerlink.RoleResponder)
	})
	if err != nil {
		c.log.Error("creating responder link failed", "remote_id", msg.Sender, "err", err)
		return
	}
	if err := link.HandleOffer(sdp); err != nil {
		c.log.Warn("applying offer failed", "remote_id", msg.Sender, "err", err)
	}
}

func (c *Controller) handleCandidate(msg signaling.Message) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &candidate); err != nil {
		c.log.Warn("undecodable candidate", "remote_id", msg.Sender, "err", err)
		return
	}

	// Candidates can only overtake their offer for remotes we have not heard
	// from yet; a responder link buffers them until the offer lands.
	link, _, err := c.links.Ensure(msg.Sender, func() (*peerlink.Link, error) {
		return c.newLink(msg.Sender, peerlink.RoleResponder)
	})
	if err != nil {
		c.log.Error("creating link for candidate failed", "remote_id", msg.Sender, "err", err)
		return
	}
	if err := link.AddCandidate(candidate); err != nil {
		c.log.Warn("adding candidate failed", "remote_id", msg.Sender, "err", err)
	}
}

func (c *Controller) newLink(remoteID string, role peerlink.Role) (*peerlink.Link, error) {
	return peerlink.New(peerlink.Config{
		RemoteID:   remoteID,
		Role:       role,
		API:        c.cfg.API,
		ICEServers: c.cfg.ICEServers,
		Logger:     c.log,
		SendOffer: func(remoteID string, sdp webrtc.SessionDescription) {
			c.sendDescription(signaling.TypeOffer, remoteID, sdp)
		},
		SendAnswer: func(remoteID string, sdp webrtc.SessionDescription) {
			c.sendDescription(signaling.TypeAnswer, remoteID, sdp)
		},
		SendCandidate: func(remoteID string, candidate webrtc.ICECandidateInit) {
			raw, err := json.Marshal(candidate)
			if err != nil {
				return
			}
			if err := c.client.Send(signaling.Message{
				Type:      signaling.TypeICECandidate,
				Target:    remoteID,
				Candidate: raw,
			}); err != nil {
				c.log.Debug("sending candidate failed", "remote_id", remoteID, "err", err)
			}
		},
		OnStateChange: func(remoteID string, state peerlink.State) {
			c.log.Info("peer link state", "remote_id", remoteID, "state", state.String())
			if c.cfg.OnPeerState != nil {
				c.cfg.OnPeerState(remoteID, state)
			}
		},
	})
}

func (c *Controller) sendDescription(typ signaling.Type, remoteID string, sdp webrtc.SessionDescription) {
	raw, err := json.Marshal(sdp)
	if err != nil {
		c.log.Error("encoding session description failed", "err", err)
		return
	}
	if err := c.client.Send(signaling.Message{Type: typ, Target: remoteID, SDP: raw}); err != nil {
		c.log.Warn("sending session description failed", "remote_id", remoteID, "err", err)
	}
}
