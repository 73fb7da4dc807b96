package peerlink

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestRoleForJoiner(t *testing.T) {
	if got := RoleForJoiner(true); got != RoleInitiator {
		t.Fatalf("joiner role = %s, want initiator", got)
	}
	if got := RoleForJoiner(false); got != RoleResponder {
		t.Fatalf("existing member role = %s, want responder", got)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, tc := range []struct {
		state State
		want  bool
	}{
		{StateNew, false},
		{StateNegotiating, false},
		{StateConnected, false},
		{StateClosed, true},
		{StateFailed, true},
	} {
		if got := tc.state.terminal(); got != tc.want {
			t.Fatalf("%s.terminal() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestStartRequiresInitiator(t *testing.T) {
	l, err := New(Config{RemoteID: "remote", Role: RoleResponder})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	defer l.Close()

	if err := l.Start(); err != ErrNotInitiator {
		t.Fatalf("Start on responder = %v, want ErrNotInitiator", err)
	}
}

func TestAnswerOutsideNegotiationDropped(t *testing.T) {
	l, err := New(Config{RemoteID: "remote", Role: RoleInitiator})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	defer l.Close()

	// A stale answer before any offer was produced must be ignored, not
	// applied and not treated as fatal.
	err = l.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("HandleAnswer = %v, want silent drop", err)
	}
	if got := l.State(); got != StateNew {
		t.Fatalf("state after stale answer = %s, want new", got)
	}
}

func TestCandidatesBufferedBeforeRemoteDescription(t *testing.T) {
	l, err := New(Config{RemoteID: "remote", Role: RoleResponder})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	defer l.Close()

	// Without a remote description pion would reject this; the link must
	// buffer instead.
	if err := l.AddCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}); err != nil {
		t.Fatalf("AddCandidate before remote description = %v", err)
	}
	l.mu.Lock()
	buffered := len(l.pending)
	l.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("buffered candidates = %d, want 1", buffered)
	}
}

func TestCloseIsIdempotentAndSticky(t *testing.T) {
	l, err := New(Config{RemoteID: "remote", Role: RoleInitiator})
	if err != nil {
		t.Fatalf("new link: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := l.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}

	// Terminal state refuses further work.
	if err := l.Start(); err != ErrLinkTerminal {
		t.Fatalf("Start after close = %v, want ErrLinkTerminal", err)
	}
	if err := l.AddCandidate(webrtc.ICECandidateInit{}); err != ErrLinkTerminal {
		t.Fatalf("AddCandidate after close = %v, want ErrLinkTerminal", err)
	}
}

func TestSetEnsure(t *testing.T) {
	s := NewSet()
	create := func() (*Link, error) {
		return New(Config{RemoteID: "remote", Role: RoleInitiator})
	}

	l1, created, err := s.Ensure("remote", create)
	if err != nil || !created {
		t.Fatalf("first Ensure = (%v, %v)", created, err)
	}
	t.Cleanup(func() { s.CloseAll() })

	l2, created, err := s.Ensure("remote", create)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created || l2 != l1 {
		t.Fatal("second Ensure did not return the existing link")
	}

	// A terminal link is replaced, never resurrected.
	_ = l1.Close()
	l3, created, err := s.Ensure("remote", create)
	if err != nil || !created {
		t.Fatalf("Ensure after close = (%v, %v)", created, err)
	}
	if l3 == l1 {
		t.Fatal("Ensure returned a closed link")
	}
}

func TestSetDrop(t *testing.T) {
	s := NewSet()
	l, _, err := s.Ensure("remote", func() (*Link, error) {
		return New(Config{RemoteID: "remote", Role: RoleResponder})
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	s.Drop("remote")
	if got := l.State(); got != StateClosed {
		t.Fatalf("dropped link state = %s, want closed", got)
	}
	if s.Len() != 0 {
		t.Fatalf("set length after drop = %d, want 0", s.Len())
	}
	// Dropping an unknown remote is a no-op.
	s.Drop("never-seen")
}
