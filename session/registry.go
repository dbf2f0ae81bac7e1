package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry tracks the server's live sessions, keyed by the control
// peer's address string.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*ServerSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*ServerSession),
	}
}

// Add registers a session under its peer address, replacing and closing
// any previous session from the same peer.
func (r *Registry) Add(peer string, s *ServerSession) {
	r.mu.Lock()
	old := r.sessions[peer]
	r.sessions[peer] = s
	r.mu.Unlock()

	if old != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"peer":     peer,
		}).Warn("Replacing existing session for peer")
		old.Close()
	}
}

// Remove drops a session if it is still the one registered for the peer.
func (r *Registry) Remove(peer string, s *ServerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[peer] == s {
		delete(r.sessions, peer)
	}
}

// Get returns the session for a peer, or nil.
func (r *Registry) Get(peer string) *ServerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[peer]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every live session.
func (r *Registry) ForEach(fn func(peer string, s *ServerSession)) {
	r.mu.RLock()
	snapshot := make(map[string]*ServerSession, len(r.sessions))
	for peer, s := range r.sessions {
		snapshot[peer] = s
	}
	r.mu.RUnlock()

	for peer, s := range snapshot {
		fn(peer, s)
	}
}

// CloseAll closes every session and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*ServerSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
