package peerlink

import "sync"

// Set holds at most one live Link per remote session id.
type Set struct {
	mu    sync.Mutex
	links map[string]*Link
}

func NewSet() *Set {
	return &Set{links: make(map[string]*Link)}
}

// Ensure returns the live link for remoteID, creating one via create when
// none exists or the existing one has reached a terminal state. created
// reports whether create ran.
func (s *Set) Ensure(remoteID string, create func() (*Link, error)) (link *Link, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.links[remoteID]; ok && !l.State().terminal() {
		return l, false, nil
	}

	l, err := create()
	if err != nil {
		return nil, false, err
	}
	s.links[remoteID] = l
	return l, true, nil
}

// Get returns the link for remoteID if one is tracked, terminal or not.
func (s *Set) Get(remoteID string) (*Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[remoteID]
	return l, ok
}

// Drop closes and forgets the link for remoteID, if any.
func (s *Set) Drop(remoteID string) {
	s.mu.Lock()
	l, ok := s.links[remoteID]
	delete(s.links, remoteID)
	s.mu.Unlock()

	if ok {
		_ = l.Close()
	}
}

// CloseAll tears down every link, leaving the set empty.
func (s *Set) CloseAll() {
	s.mu.Lock()
	links := s.links
	s.links = make(map[string]*Link)
	s.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Remotes lists the remote ids with a tracked link.
func (s *Set) Remotes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for id := range s.links {
		out = append(out, id)
	}
	return out
}
