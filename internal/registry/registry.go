package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/syncpulse/internal/domain"
)

// DefaultMaxSessionsPerUser is the per-user cap used when none is configured.
const DefaultMaxSessionsPerUser = 5

// Gauge receives the total session count after every change.
type Gauge interface {
	Set(float64)
}

type userSessions map[uuid.UUID]*domain.Session

// Registry maps user identity to that user's live sessions.
type Registry struct {
	mu         sync.RWMutex
	users      map[string]userSessions
	total      int
	maxPerUser int
	gauge      Gauge
}

// New creates a registry. maxPerUser <= 0 selects DefaultMaxSessionsPerUser.
// gauge may be nil.
func New(maxPerUser int, gauge Gauge) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxSessionsPerUser
	}
	return &Registry{
		users:      make(map[string]userSessions),
		maxPerUser: maxPerUser,
		gauge:      gauge,
	}
}

// Add tracks session under userID. Returns domain.ErrCapacityExceeded when the
// user already holds maxPerUser sessions; the registry is left unchanged.
func (r *Registry) Add(userID string, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, exists := r.users[userID]
	if !exists {
		sessions = make(userSessions)
		r.users[userID] = sessions
	}

	if _, dup := sessions[session.ID]; dup {
		return nil
	}

	if len(sessions) >= r.maxPerUser {
		return fmt.Errorf("user %s: %w (max %d)", userID, domain.ErrCapacityExceeded, r.maxPerUser)
	}

	sessions[session.ID] = session
	r.total++
	r.reportTotal()
	return nil
}

// Remove stops tracking sessionID. Removing an unknown session is a no-op.
// Reports whether the session was tracked.
func (r *Registry) Remove(userID string, sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, exists := r.users[userID]
	if !exists {
		return false
	}
	if _, tracked := sessions[sessionID]; !tracked {
		return false
	}

	delete(sessions, sessionID)
	r.total--
	r.reportTotal()

	if len(sessions) == 0 {
		delete(r.users, userID)
	}
	return true
}

// SessionsFor returns a snapshot of the user's sessions in no particular order.
func (r *Registry) SessionsFor(userID string) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.users[userID]
	out := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// AllSessions returns a snapshot of every tracked session.
func (r *Registry) AllSessions() []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Session, 0, r.total)
	for _, sessions := range r.users {
		for _, s := range sessions {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of sessions tracked for userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Len returns the total number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Users returns the number of users with at least one session.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// MaxPerUser returns the per-user session cap.
func (r *Registry) MaxPerUser() int {
	return r.maxPerUser
}

// must be called with mu held
func (r *Registry) reportTotal() {
	if r.gauge != nil {
		r.gauge.Set(float64(r.total))
	}
}
