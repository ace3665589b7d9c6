package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StatePending SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the outbound half of a live client connection.
// Send must not block on a slow peer.
type Conn interface {
	Send(msg []byte) error
	Close(reason string) error
}

// Session is one live client connection owned by the goroutine that admitted it.
type Session struct {
	ID        uuid.UUID
	UserID    string
	CreatedAt time.Time
	Conn      Conn

	state atomic.Int32
}

// NewSession creates a session in the Pending state.
func NewSession(userID string, conn Conn, createdAt time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: createdAt,
		Conn:      conn,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Activate moves a Pending session to Active. Returns false in any other state.
func (s *Session) Activate() bool {
	return s.state.CompareAndSwap(int32(StatePending), int32(StateActive))
}

// BeginClose moves the session to Closing. Only the first caller gets true,
// so exactly one party initiates the close of the underlying connection.
func (s *Session) BeginClose() bool {
	for {
		cur := s.state.Load()
		if cur == int32(StateClosing) || cur == int32(StateClosed) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateClosing)) {
			return true
		}
	}
}

// MarkClosed moves a Closing session to Closed. Closed is terminal.
func (s *Session) MarkClosed() bool {
	return s.state.CompareAndSwap(int32(StateClosing), int32(StateClosed))
}
