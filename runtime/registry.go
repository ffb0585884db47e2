package runtime

import (
	"sync"
	"time"

	"hybridchat/domain"
)

// Registry is the single source of truth for who is online. It maps userId to
// the active session and is safe for concurrent use; broadcast iterates a
// snapshot while connection goroutines add and remove entries.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// CreateSession inserts or replaces the mapping for userID. It never fails;
// a later login for the same userID overwrites the earlier entry. The caller
// decides what happens to the displaced connection.
func (r *Registry) CreateSession(userID string, conn domain.Connection) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	session := &domain.Session{
		UserID:       userID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.sessions[userID] = session
	return session
}

func (r *Registry) GetSession(userID string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[userID]
	return session, ok
}

// RemoveSession is idempotent; removing an absent userID is a no-op.
func (r *Registry) RemoveSession(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// FindUserIDByConnection resolves the identity bound to a connection. A
// connection only knows itself, so this reverse lookup is how handlers derive
// the sender. Linear scan; session counts stay small.
func (r *Registry) FindUserIDByConnection(conn domain.Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for userID, session := range r.sessions {
		if session.Conn == conn {
			return userID, true
		}
	}
	return "", false
}

// UpdateActivity refreshes LastActivity, driven by heartbeat pongs and any
// inbound traffic.
func (r *Registry) UpdateActivity(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[userID]; ok {
		session.LastActivity = r.now().UTC()
	}
}

// AllSessions returns a point-in-time snapshot for iteration outside the lock.
func (r *Registry) AllSessions() []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		snapshot = append(snapshot, session)
	}
	return snapshot
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
