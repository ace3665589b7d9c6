package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event kinds emitted by the server.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventHeartbeat    = "heartbeat"
	EventMessage      = "message"
)

// Event is a broadcast record. Values are copied, never mutated after NewEvent.
type Event struct {
	ID   string `json:"id"`
	Kind string `json:"event"`
	Data string `json:"data"`
}

// NewEvent builds an event with a fresh time-ordered ID.
func NewEvent(kind, data string) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{ID: id.String(), Kind: kind, Data: data}
}

type notificationPayload struct {
	Message string `json:"message"`
}

// NewNotificationEvent wraps message as {"message": message}.
func NewNotificationEvent(message string) (Event, error) {
	data, err := json.Marshal(notificationPayload{Message: message})
	if err != nil {
		return Event{}, fmt.Errorf("marshal notification: %w", err)
	}
	return NewEvent(EventNotification, string(data)), nil
}
