package peerlink

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

// TestLinkHandshakeOverVNet drives a full initiator/responder negotiation
// across pion's virtual network: offer, answer, trickled candidates both
// ways, connectivity, and the heartbeat channel.
func TestLinkHandshakeOverVNet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping vnet handshake in short mode")
	}

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	newAPI := func(n *vnet.Net) *webrtc.API {
		se := webrtc.SettingEngine{LoggerFactory: &slogLoggerFactory{log: log}}
		se.SetNet(n)
		return webrtc.NewAPI(webrtc.WithSettingEngine(se))
	}

	statesA := make(chan State, 8)
	statesB := make(chan State, 8)

	var initiator, responder *Link

	responder, err = New(Config{
		RemoteID: "peer-a",
		Role:     RoleResponder,
		API:      newAPI(netB),
		Logger:   log,
		SendAnswer: func(_ string, sdp webrtc.SessionDescription) {
			if err := initiator.HandleAnswer(sdp); err != nil {
				t.Errorf("handle answer: %v", err)
			}
		},
		SendCandidate: func(_ string, c webrtc.ICECandidateInit) {
			if err := initiator.AddCandidate(c); err != nil {
				t.Errorf("add candidate at initiator: %v", err)
			}
		},
		OnStateChange: func(_ string, s State) { statesB <- s },
	})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	t.Cleanup(func() { _ = responder.Close() })

	initiator, err = New(Config{
		RemoteID: "peer-b",
		Role:     RoleInitiator,
		API:      newAPI(netA),
		Logger:   log,
		SendOffer: func(_ string, sdp webrtc.SessionDescription) {
			if err := responder.HandleOffer(sdp); err != nil {
				t.Errorf("handle offer: %v", err)
			}
		},
		SendCandidate: func(_ string, c webrtc.ICECandidateInit) {
			if err := responder.AddCandidate(c); err != nil {
				t.Errorf("add candidate at responder: %v", err)
			}
		},
		OnStateChange: func(_ string, s State) { statesA <- s },
	})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	t.Cleanup(func() { _ = initiator.Close() })

	if err := initiator.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForState := func(name string, ch chan State, want State) {
		t.Helper()
		deadline := time.After(10 * time.Second)
		for {
			select {
			case s := <-ch:
				if s == want {
					return
				}
				if s.terminal() {
					t.Fatalf("%s reached %s while waiting for %s", name, s, want)
				}
			case <-deadline:
				t.Fatalf("%s never reached %s", name, want)
			}
		}
	}

	waitForState("initiator", statesA, StateConnected)
	waitForState("responder", statesB, StateConnected)

	// The initiator pings on an interval; both sides should record liveness.
	heartbeatDeadline := time.Now().Add(2 * heartbeatInterval)
	for time.Now().Before(heartbeatDeadline) {
		if !initiator.LastHeartbeat().IsZero() && !responder.LastHeartbeat().IsZero() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no heartbeat exchanged: initiator=%v responder=%v",
		initiator.LastHeartbeat(), responder.LastHeartbeat())
}
