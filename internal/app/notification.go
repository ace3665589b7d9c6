package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/domain"
)

// EventPublisher accepts events for fan-out.
type EventPublisher interface {
	Publish(ev domain.Event) broadcast.Outcome
}

// NotificationService turns application notifications into hub events.
type NotificationService struct {
	publisher EventPublisher
}

func NewNotificationService(publisher EventPublisher) *NotificationService {
	return &NotificationService{publisher: publisher}
}

// SendNotification publishes message as a notification event. Delivery
// problems are reported through the outcome, never as an error.
func (s *NotificationService) SendNotification(ctx context.Context, message string) (broadcast.Outcome, error) {
	ev, err := domain.NewNotificationEvent(message)
	if err != nil {
		return 0, fmt.Errorf("failed to build notification event: %w", err)
	}

	outcome := s.publisher.Publish(ev)
	switch outcome {
	case broadcast.BufferFull:
		slog.WarnContext(ctx, "Notification dropped for slow subscribers", "event_id", ev.ID)
	case broadcast.NoSubscribers:
		slog.DebugContext(ctx, "Notification sent without subscribers", "event_id", ev.ID)
	default:
		slog.InfoContext(ctx, "Notification sent", "event_id", ev.ID)
	}
	return outcome, nil
}
