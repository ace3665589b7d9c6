package domain

import "errors"

var (
	// ErrInvalidCredential is returned when the identity service rejects a
	// credential, or cannot be reached to confirm it.
	ErrInvalidCredential = errors.New("invalid session credential")
	// ErrCapacityExceeded is returned when a user already holds the maximum
	// number of tracked sessions.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrSendBufferFull is returned when a connection's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when sending on a connection that is
	// already shutting down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSubscriptionClosed is returned by a subscription after it was closed
	// by its consumer or by hub shutdown.
	ErrSubscriptionClosed = errors.New("subscription closed")
)
