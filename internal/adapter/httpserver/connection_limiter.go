package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	apperrors "github.com/pscheid92/syncpulse/internal/platform/errors"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleExpiry      = 10 * time.Minute
)

// globalLimiter caps concurrent long-lived connections for the process.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalLimiter) release() {
	l.current.Add(-1)
}

// ipLimiter caps concurrent connections from one client address.
type ipLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

// rateLimiter is a per-IP token bucket for new connections.
type rateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *rateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-rateLimiterIdleExpiry)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(rateLimiterCleanupInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// LimitReason describes why a connection was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

type LimitsConfig struct {
	MaxConnections       int
	MaxConnectionsPerIP  int
	ConnectionsPerSecond float64
	Burst                int
}

// ConnectionLimits guards admission of long-lived connections (WebSocket
// and SSE) with a process-wide cap, a per-IP cap, and a per-IP rate.
type ConnectionLimits struct {
	global *globalLimiter
	perIP  *ipLimiter
	rate   *rateLimiter
}

func NewConnectionLimits(cfg LimitsConfig, clock clockwork.Clock) *ConnectionLimits {
	return &ConnectionLimits{
		global: &globalLimiter{max: int64(cfg.MaxConnections)},
		perIP:  &ipLimiter{ips: make(map[string]int), maxPer: cfg.MaxConnectionsPerIP},
		rate: &rateLimiter{
			clock:     clock,
			limiters:  make(map[string]*rateLimiterEntry),
			rate:      rate.Limit(cfg.ConnectionsPerSecond),
			burst:     cfg.Burst,
			cleanupAt: clock.Now().Add(rateLimiterCleanupInterval),
		},
	}
}

// Acquire takes a slot for ip. On failure nothing is held and the reason
// names the limit that refused.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release returns the slot taken by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.global.current.Load()
}

// Middleware holds a slot for the lifetime of the wrapped handler. Refusals
// are 429 for the rate limit and 503 for the caps. httpMetrics may be nil.
func (l *ConnectionLimits) Middleware(httpMetrics *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			ok, reason := l.Acquire(ip)
			if !ok {
				if httpMetrics != nil {
					httpMetrics.ConnectionRejections.WithLabelValues(string(reason)).Inc()
				}
				if reason == LimitReasonRate {
					return apperrors.RateLimitedError("too many connection attempts").WithContext("reason", string(reason))
				}
				return apperrors.UnavailableError("connection limit reached", nil).WithContext("reason", string(reason))
			}
			defer l.Release(ip)

			return next(c)
		}
	}
}
