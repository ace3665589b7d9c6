package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/syncpulse/internal/adapter/httpserver"
	"github.com/pscheid92/syncpulse/internal/adapter/identity"
	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/adapter/websocket"
	"github.com/pscheid92/syncpulse/internal/app"
	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/platform/config"
	"github.com/pscheid92/syncpulse/internal/platform/logging"
	"github.com/pscheid92/syncpulse/internal/platform/version"
	"github.com/pscheid92/syncpulse/internal/registry"
	"github.com/pscheid92/syncpulse/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func healthChecks(hub *broadcast.Hub, validator *identity.Validator) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{Name: "hub", Check: func(context.Context) error {
			if hub.Closed() {
				return errors.New("hub closed")
			}
			return nil
		}},
		{Name: "identity_service", Check: func(context.Context) error {
			if validator.CircuitState() == circuitbreaker.OpenState {
				return errors.New("identity service circuit open")
			}
			return nil
		}},
	}
}

// shutdown stops background work and drains connections. Long-lived streams
// end first so the HTTP server has nothing left to wait for.
func shutdown(srv *httpserver.Server, stopSupervisor context.CancelFunc, hub *broadcast.Hub, wsHandler *websocket.Handler) {
	slog.Info("Shutdown signal received, cleaning up...")

	stopSupervisor()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	closed := wsHandler.CloseAll(ctx)
	slog.Info("Closed WebSocket sessions", "count", closed)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	build := version.Get()
	slog.Info("Application starting", "build", build.String(), "env", cfg.AppEnv, "port", cfg.Port, "relay_mode", cfg.RelayMode)

	mode, err := websocket.ParseMode(cfg.RelayMode)
	if err != nil {
		slog.Error("Invalid relay mode", "error", err)
		os.Exit(1)
	}

	promRegistry := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(promRegistry)
	hubMetrics := metrics.NewHubMetrics(promRegistry)
	supMetrics := metrics.NewSupervisorMetrics(promRegistry)
	identityMetrics := metrics.NewIdentityMetrics(promRegistry)
	httpMetrics := metrics.NewHTTPMetrics(promRegistry)

	health := app.NewHealthService(clock)
	sessions := registry.New(cfg.MaxSessionsPerUser, wsMetrics.ActiveSessions)
	activity := registry.NewActivityTracker(clock)
	hub := broadcast.NewHub(cfg.HubBufferSize, hubMetrics)

	validator := identity.NewValidator(identity.Config{
		BaseURL:      cfg.IdentityServiceURL,
		ValidatePath: cfg.IdentityValidatePath,
		Timeout:      cfg.IdentityTimeout,
	}, identityMetrics)

	wsHandler := websocket.NewHandler(websocket.Config{
		Mode:           mode,
		SendBufferSize: cfg.SendBufferSize,
		CheckOrigin:    websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
	}, validator, sessions, activity, hub, clock, wsMetrics)

	sup := supervisor.New(supervisor.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleScanInterval:  cfg.IdleScanInterval,
		IdleTimeout:       cfg.IdleTimeout,
	}, hub, sessions, activity, health.Uptime, clock, supMetrics)

	limits := httpserver.NewConnectionLimits(httpserver.LimitsConfig{
		MaxConnections:       cfg.MaxWebSocketConnections,
		MaxConnectionsPerIP:  cfg.MaxConnectionsPerIP,
		ConnectionsPerSecond: cfg.ConnectionRate,
		Burst:                cfg.ConnectionBurst,
	}, clock)

	srv := httpserver.NewServer(cfg,
		app.NewNotificationService(hub), hub, health, wsHandler,
		healthChecks(hub, validator),
		httpserver.WithConnectionLimits(limits),
		httpserver.WithMetrics(httpMetrics, metrics.Handler(promRegistry)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supCtx, stopSupervisor := context.WithCancel(context.Background())
	defer stopSupervisor()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(supCtx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(srv, stopSupervisor, hub, wsHandler)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
