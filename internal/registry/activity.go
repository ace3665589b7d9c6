package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ActivityTracker records the last inbound activity per session.
type ActivityTracker struct {
	mu    sync.Mutex
	last  map[uuid.UUID]time.Time
	clock clockwork.Clock
}

// NewActivityTracker creates an empty tracker using clock for timestamps.
func NewActivityTracker(clock clockwork.Clock) *ActivityTracker {
	return &ActivityTracker{
		last:  make(map[uuid.UUID]time.Time),
		clock: clock,
	}
}

// Touch sets the session's last activity to now.
func (a *ActivityTracker) Touch(sessionID uuid.UUID) {
	now := a.clock.Now()
	a.mu.Lock()
	a.last[sessionID] = now
	a.mu.Unlock()
}

// Forget drops the session from tracking.
func (a *ActivityTracker) Forget(sessionID uuid.UUID) {
	a.mu.Lock()
	delete(a.last, sessionID)
	a.mu.Unlock()
}

// LastActivity returns the recorded timestamp for sessionID.
func (a *ActivityTracker) LastActivity(sessionID uuid.UUID) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts, ok := a.last[sessionID]
	return ts, ok
}

// IdleLongerThan returns the sessions whose last activity is more than threshold ago.
func (a *ActivityTracker) IdleLongerThan(threshold time.Duration) []uuid.UUID {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	var idle []uuid.UUID
	for id, ts := range a.last {
		if now.Sub(ts) > threshold {
			idle = append(idle, id)
		}
	}
	return idle
}

// Len returns the number of tracked sessions.
func (a *ActivityTracker) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.last)
}
