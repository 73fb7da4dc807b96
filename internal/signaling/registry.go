package signaling

import "github.com/go4org/hashtriemap"

// Registry maps live session ids to their connections. It is the relay's only
// lookup path for targeted delivery; room membership is tracked separately by
// the Directory.
type Registry struct {
	sessions hashtriemap.HashTrieMap[string, *Session]
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(sess *Session) {
	r.sessions.Store(sess.ID(), sess)
}

func (r *Registry) Remove(id string) {
	r.sessions.Delete(id)
}

func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Load(id)
}

func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(string, *Session) bool {
		n++
		return true
	})
	return n
}
