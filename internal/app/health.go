package app

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// HealthService reports process uptime.
type HealthService struct {
	clock     clockwork.Clock
	startedAt time.Time
}

func NewHealthService(clock clockwork.Clock) *HealthService {
	return &HealthService{clock: clock, startedAt: clock.Now()}
}

func (h *HealthService) StartedAt() time.Time {
	return h.startedAt
}

func (h *HealthService) Uptime() time.Duration {
	return h.clock.Since(h.startedAt)
}

// Report renders the uptime in whole seconds, e.g. "Uptime: 42 seconds".
func (h *HealthService) Report() string {
	return fmt.Sprintf("Uptime: %d seconds", int64(h.Uptime().Seconds()))
}
