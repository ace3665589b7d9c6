package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/domain"
	"github.com/pscheid92/syncpulse/internal/platform/correlation"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleScanInterval  = time.Minute
	DefaultIdleTimeout       = 5 * time.Minute

	idleCloseReason = "idle timeout"
)

// Publisher receives the heartbeat event.
type Publisher interface {
	Publish(ev domain.Event) broadcast.Outcome
}

// Sessions is the view of the session registry the supervisor needs.
type Sessions interface {
	AllSessions() []*domain.Session
	Remove(userID string, sessionID uuid.UUID) bool
}

// Activity is the view of the idle tracking map the supervisor needs.
type Activity interface {
	IdleLongerThan(threshold time.Duration) []uuid.UUID
	Forget(sessionID uuid.UUID)
}

// UptimeFunc reports how long the server has been running.
type UptimeFunc func() time.Duration

type Config struct {
	HeartbeatInterval time.Duration
	IdleScanInterval  time.Duration
	IdleTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.IdleScanInterval <= 0 {
		c.IdleScanInterval = DefaultIdleScanInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Supervisor runs the heartbeat and idle-scan loops.
type Supervisor struct {
	cfg       Config
	publisher Publisher
	sessions  Sessions
	activity  Activity
	uptime    UptimeFunc
	clock     clockwork.Clock
	metrics   *metrics.SupervisorMetrics
}

// New creates a supervisor. Zero durations in cfg select the defaults.
// uptime and supMetrics may be nil.
func New(cfg Config, publisher Publisher, sessions Sessions, activity Activity, uptime UptimeFunc, clock clockwork.Clock, supMetrics *metrics.SupervisorMetrics) *Supervisor {
	if uptime == nil {
		start := clock.Now()
		uptime = func() time.Duration { return clock.Since(start) }
	}
	return &Supervisor{
		cfg:       cfg.withDefaults(),
		publisher: publisher,
		sessions:  sessions,
		activity:  activity,
		uptime:    uptime,
		clock:     clock,
		metrics:   supMetrics,
	}
}

// Run starts both loops and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Supervisor started",
		"heartbeat_interval", s.cfg.HeartbeatInterval,
		"idle_scan_interval", s.cfg.IdleScanInterval,
		"idle_timeout", s.cfg.IdleTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(gctx, s.cfg.HeartbeatInterval, s.Heartbeat)
		return nil
	})
	g.Go(func() error {
		s.loop(gctx, s.cfg.IdleScanInterval, func(tickCtx context.Context) { s.CullIdle(tickCtx) })
		return nil
	})

	err := g.Wait()
	slog.InfoContext(ctx, "Supervisor stopped")
	return err
}

func (s *Supervisor) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			tick(correlation.WithID(ctx, correlation.NewID()))
		}
	}
}

// Heartbeat publishes one heartbeat event to the hub and sends a heartbeat
// frame to every registered session. A failed send is logged and skipped.
func (s *Supervisor) Heartbeat(ctx context.Context) {
	outcome := s.publisher.Publish(domain.NewEvent(domain.EventHeartbeat, ""))
	if s.metrics != nil {
		s.metrics.Heartbeats.Inc()
	}

	frame := []byte(fmt.Sprintf("Heartbeat: Uptime: %d seconds", int64(s.uptime().Seconds())))

	sessions := s.sessions.AllSessions()
	failed := 0
	for _, session := range sessions {
		if session.State() != domain.StateActive {
			continue
		}
		if err := session.Conn.Send(frame); err != nil {
			failed++
			if s.metrics != nil {
				s.metrics.HeartbeatSendFailures.Inc()
			}
			slog.WarnContext(ctx, "Heartbeat send failed", "session_id", session.ID.String(), "user_id", session.UserID, "error", err)
		}
	}

	slog.DebugContext(ctx, "Heartbeat", "outcome", outcome.String(), "sessions", len(sessions), "failed", failed)
}

// CullIdle closes and deregisters every session idle for longer than the
// configured timeout. Returns the number of sessions closed.
func (s *Supervisor) CullIdle(ctx context.Context) int {
	idle := s.activity.IdleLongerThan(s.cfg.IdleTimeout)
	if len(idle) == 0 {
		return 0
	}

	wanted := make(map[uuid.UUID]struct{}, len(idle))
	for _, id := range idle {
		wanted[id] = struct{}{}
	}

	closed := 0
	for _, session := range s.sessions.AllSessions() {
		if _, ok := wanted[session.ID]; !ok {
			continue
		}
		delete(wanted, session.ID)

		// A session already closing is torn down by whoever started it.
		if !session.BeginClose() {
			continue
		}
		if err := session.Conn.Close(idleCloseReason); err != nil {
			slog.DebugContext(ctx, "Idle session close failed", "session_id", session.ID.String(), "error", err)
		}
		s.sessions.Remove(session.UserID, session.ID)
		s.activity.Forget(session.ID)
		session.MarkClosed()
		closed++

		slog.InfoContext(ctx, "Closed idle session", "session_id", session.ID.String(), "user_id", session.UserID)
	}

	// Activity entries with no registered session are stale.
	for id := range wanted {
		s.activity.Forget(id)
	}

	if closed > 0 && s.metrics != nil {
		s.metrics.IdleClosures.Add(float64(closed))
	}
	return closed
}
