package handlers

import (
	"sync"

	"github.com/scrypster/capsule/internal/engine"
)

// userSession pairs a session with the lock that serialises its requests.
type userSession struct {
	mu      sync.Mutex
	session *engine.Session
}

// SessionRegistry keeps one in-process session per user. Sessions are not
// persisted; a restart means logging in again, which resumes from storage.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*userSession
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*userSession)}
}

// Put stores s, replacing any earlier session of the same user.
func (r *SessionRegistry) Put(s *engine.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.UserID] = &userSession{session: s}
}

// With runs fn with exclusive access to the user's session.
// It reports false if the user has no session.
func (r *SessionRegistry) With(userID string, fn func(*engine.Session)) bool {
	r.mu.RLock()
	us, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	us.mu.Lock()
	defer us.mu.Unlock()
	fn(us.session)
	return true
}

// Len returns the number of active sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
