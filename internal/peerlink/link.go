package peerlink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrNotInitiator is returned when a responder link is asked to offer.
	ErrNotInitiator = errors.New("link is not the initiator")
	// ErrLinkTerminal is returned for operations on a closed or failed link.
	ErrLinkTerminal = errors.New("link is closed")
)

// Config wires a Link to its collaborators. The Send callbacks hand outbound
// negotiation messages to the signaling transport; they are invoked from pion
// callback goroutines and must not block.
type Config struct {
	RemoteID   string
	Role       Role
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger

	SendOffer     func(remoteID string, sdp webrtc.SessionDescription)
	SendAnswer    func(remoteID string, sdp webrtc.SessionDescription)
	SendCandidate func(remoteID string, candidate webrtc.ICECandidateInit)
	OnStateChange func(remoteID string, state State)
}

// Link owns the PeerConnection toward one remote room member.
//
// Exactly one link exists per remote at a time (enforced by Set). The link
// never talks to the signaling server itself: inbound messages are routed to
// HandleOffer/HandleAnswer/AddCandidate by the room controller, outbound ones
// leave through the Config callbacks.
type Link struct {
	cfg Config
	log *slog.Logger
	pc  *webrtc.PeerConnection

	mu            sync.Mutex
	state         State
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	heartbeat     *webrtc.DataChannel

	lastBeat  atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) (*Link, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.API == nil {
		cfg.API = webrtc.NewAPI()
	}

	pc, err := cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &Link{
		cfg:   cfg,
		log:   cfg.Logger.With("remote_id", cfg.RemoteID, "role", cfg.Role.String()),
		pc:    pc,
		state: StateNew,
		done:  make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering; with trickle ICE there is nothing to send.
			return
		}
		if l.cfg.SendCandidate != nil {
			l.cfg.SendCandidate(l.cfg.RemoteID, c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(l.onConnectionStateChange)

	if cfg.Role == RoleResponder {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == heartbeatLabel {
				l.bindHeartbeat(dc)
			}
		})
	}

	return l, nil
}

func (l *Link) RemoteID() string { return l.cfg.RemoteID }
func (l *Link) Role() Role       { return l.cfg.Role }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start begins negotiation on an initiator link: it creates the heartbeat
// channel, produces the offer and hands it to the signaling transport.
func (l *Link) Start() error {
	if l.cfg.Role != RoleInitiator {
		return ErrNotInitiator
	}
	if l.State().terminal() {
		return ErrLinkTerminal
	}

	dc, err := l.pc.CreateDataChannel(heartbeatLabel, nil)
	if err != nil {
		return fmt.Errorf("create heartbeat channel: %w", err)
	}
	l.bindHeartbeat(dc)

	return l.offer()
}

// Renegotiate produces a fresh offer on an established initiator link, for
// example after tracks changed.
func (l *Link) Renegotiate() error {
	if l.cfg.Role != RoleInitiator {
		return ErrNotInitiator
	}
	if l.State().terminal() {
		return ErrLinkTerminal
	}
	return l.offer()
}

func (l *Link) offer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	l.setState(StateNegotiating)
	if l.cfg.SendOffer != nil {
		l.cfg.SendOffer(l.cfg.RemoteID, offer)
	}
	return nil
}

// HandleOffer applies a remote offer and responds with an answer. It serves
// both the initial responder path and in-place renegotiation of an
// established link.
func (l *Link) HandleOffer(sdp webrtc.SessionDescription) error {
	if l.State().terminal() {
		return ErrLinkTerminal
	}

	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	l.flushPendingCandidates()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	if l.State() == StateNew {
		l.setState(StateNegotiating)
	}
	if l.cfg.SendAnswer != nil {
		l.cfg.SendAnswer(l.cfg.RemoteID, answer)
	}
	return nil
}

// HandleAnswer applies the remote answer to an offer this link produced. An
// answer arriving in any other state is a protocol violation by the remote
// (or a stale message) and is dropped with a warning rather than tearing the
// link down.
func (l *Link) HandleAnswer(sdp webrtc.SessionDescription) error {
	if l.State() != StateNegotiating {
		l.log.Warn("dropping answer outside negotiation", "state", l.State().String())
		return nil
	}

	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.flushPendingCandidates()
	return nil
}

// AddCandidate feeds a trickled remote candidate into the connection.
// Candidates arriving before the remote description are buffered and flushed
// once it lands; webrtc rejects them otherwise.
func (l *Link) AddCandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state.terminal() {
		l.mu.Unlock()
		return ErrLinkTerminal
	}
	if !l.remoteDescSet {
		l.pending = append(l.pending, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (l *Link) flushPendingCandidates() {
	l.mu.Lock()
	l.remoteDescSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.log.Warn("dropping buffered ice candidate", "err", err)
		}
	}
}

func (l *Link) onConnectionStateChange(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.setState(StateConnected)
	case webrtc.PeerConnectionStateFailed:
		l.setState(StateFailed)
	case webrtc.PeerConnectionStateClosed:
		l.setState(StateClosed)
	case webrtc.PeerConnectionStateDisconnected:
		// Transient; ICE may recover without renegotiation.
		l.log.Warn("link transport disconnected")
	}
}

// setState advances the state machine. Terminal states are sticky.
func (l *Link) setState(next State) {
	l.mu.Lock()
	if l.state == next || l.state.terminal() {
		l.mu.Unlock()
		return
	}
	l.state = next
	l.mu.Unlock()

	l.log.Debug("link state", "state", next.String())
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(l.cfg.RemoteID, next)
	}
}

// Close releases the PeerConnection. Safe to call any number of times, from
// any state.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.setState(StateClosed)
		close(l.done)
		err = l.pc.Close()
	})
	return err
}
