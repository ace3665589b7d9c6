package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/platform/config"
)

type notifier interface {
	SendNotification(ctx context.Context, message string) (broadcast.Outcome, error)
}

type eventSource interface {
	Subscribe() *broadcast.Subscription
}

type uptimeReporter interface {
	Uptime() time.Duration
	Report() string
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	notifications notifier
	events        eventSource
	health        uptimeReporter

	websocketHandler http.Handler
	healthChecks     []HealthCheck

	limits         *ConnectionLimits
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithConnectionLimits guards the WebSocket and SSE routes.
func WithConnectionLimits(limits *ConnectionLimits) Option {
	return func(s *Server) { s.limits = limits }
}

// WithMetrics records request metrics and serves handler at /metrics.
func WithMetrics(httpMetrics *metrics.HTTPMetrics, handler http.Handler) Option {
	return func(s *Server) {
		s.httpMetrics = httpMetrics
		s.metricsHandler = handler
	}
}

func NewServer(cfg *config.Config, notifications notifier, events eventSource, health uptimeReporter, websocketHandler http.Handler, healthChecks []HealthCheck, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		notifications:    notifications,
		events:           events,
		health:           health,
		websocketHandler: websocketHandler,
		healthChecks:     healthChecks,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
