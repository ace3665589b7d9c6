package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/syncpulse/internal/adapter/identity"
	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/domain"
	"github.com/pscheid92/syncpulse/internal/registry"
)

// Mode selects what happens to inbound messages.
type Mode string

const (
	// ModeRelay sends each message to every session of the same user.
	ModeRelay Mode = "relay"
	// ModeHub publishes each message to the broadcast hub.
	ModeHub Mode = "hub"
	// ModeEcho answers each message to its sender only.
	ModeEcho Mode = "echo"
)

// ParseMode converts a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRelay, ModeHub, ModeEcho:
		return m, nil
	default:
		return "", fmt.Errorf("unknown relay mode %q (want relay, hub or echo)", s)
	}
}

const shutdownReason = "server shutting down"

// CredentialValidator resolves a credential to a user identity.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string) (string, error)
}

// Hub is the broadcast hub as seen by WebSocket sessions.
type Hub interface {
	Publish(ev domain.Event) broadcast.Outcome
	Subscribe() *broadcast.Subscription
}

type Config struct {
	Mode           Mode
	SendBufferSize int
	CheckOrigin    func(r *http.Request) bool
}

// Handler admits WebSocket connections and runs them until they close:
// validate, register, read loop, teardown.
type Handler struct {
	validator  CredentialValidator
	registry   *registry.Registry
	activity   *registry.ActivityTracker
	hub        Hub
	clock      clockwork.Clock
	upgrader   websocket.Upgrader
	mode       Mode
	sendBuffer int
	metrics    *metrics.WebSocketMetrics
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a lifecycle handler. An empty cfg.Mode selects ModeRelay.
// wsMetrics may be nil.
func NewHandler(cfg Config, validator CredentialValidator, reg *registry.Registry, activity *registry.ActivityTracker, hub Hub, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics) *Handler {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeRelay
	}
	return &Handler{
		validator: validator,
		registry:  reg,
		activity:  activity,
		hub:       hub,
		clock:     clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		mode:       mode,
		sendBuffer: cfg.SendBufferSize,
		metrics:    wsMetrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.upgrader.CheckOrigin != nil && !h.upgrader.CheckOrigin(r) {
		h.reject("origin")
		slog.InfoContext(ctx, "WebSocket origin rejected", "remote_addr", r.RemoteAddr, "origin", r.Header.Get("Origin"))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	userID, err := h.validator.Validate(ctx, r.Header.Get(identity.HeaderSessionKey))
	if err != nil {
		h.reject("invalid_credential")
		slog.InfoContext(ctx, "WebSocket credential rejected", "remote_addr", r.RemoteAddr, "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(ctx, "WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	writer := newConnWriter(conn, h.clock, h.sendBuffer)
	session := domain.NewSession(userID, writer, h.clock.Now())

	if err := h.registry.Add(userID, session); err != nil {
		h.reject("capacity")
		slog.InfoContext(ctx, "WebSocket session rejected", "user_id", userID, "error", err)
		session.BeginClose()
		_ = writer.Close("")
		session.MarkClosed()
		return
	}
	session.Activate()
	h.activity.Touch(session.ID)

	slog.InfoContext(ctx, "WebSocket session opened", "session_id", session.ID.String(), "user_id", userID, "mode", string(h.mode))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if h.mode == ModeHub {
		sub := h.hub.Subscribe()
		defer sub.Close()
		go h.pump(connCtx, session, sub)
	}

	h.readLoop(connCtx, session, conn, writer)
	h.teardown(connCtx, session, writer)
}

func (h *Handler) readLoop(ctx context.Context, session *domain.Session, conn *websocket.Conn, writer *connWriter) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read ended", "session_id", session.ID.String(), "error", err)
			}
			return
		}

		writer.updateReadDeadline()
		h.activity.Touch(session.ID)
		if h.metrics != nil {
			h.metrics.MessagesReceived.Inc()
		}

		if msgType != websocket.TextMessage {
			continue
		}
		h.dispatch(ctx, session, payload)
	}
}

func (h *Handler) dispatch(ctx context.Context, sender *domain.Session, payload []byte) {
	switch h.mode {
	case ModeEcho:
		h.send(ctx, sender, []byte("Echo: "+string(payload)))
	case ModeHub:
		outcome := h.hub.Publish(domain.NewEvent(domain.EventMessage, string(payload)))
		slog.DebugContext(ctx, "Message published", "session_id", sender.ID.String(), "outcome", outcome.String())
	default:
		for _, recipient := range h.registry.SessionsFor(sender.UserID) {
			if recipient.State() != domain.StateActive {
				continue
			}
			h.send(ctx, recipient, payload)
		}
	}
}

// pump forwards hub events to one session until ctx ends or the hub closes.
func (h *Handler) pump(ctx context.Context, session *domain.Session, sub *broadcast.Subscription) {
	for ev := range sub.All(ctx) {
		if ev.Kind == domain.EventHeartbeat {
			continue
		}
		frame, err := json.Marshal(ev)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to encode event", "event_id", ev.ID, "error", err)
			continue
		}
		h.send(ctx, session, frame)
	}
}

func (h *Handler) send(ctx context.Context, session *domain.Session, msg []byte) {
	err := session.Conn.Send(msg)
	if err == nil {
		return
	}
	if h.metrics != nil {
		h.metrics.SendFailures.Inc()
	}
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrConnectionClosed) {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "WebSocket send failed", "session_id", session.ID.String(), "user_id", session.UserID, "error", err)
}

func (h *Handler) teardown(ctx context.Context, session *domain.Session, writer *connWriter) {
	session.BeginClose()
	writer.abort()
	h.registry.Remove(session.UserID, session.ID)
	h.activity.Forget(session.ID)
	session.MarkClosed()

	slog.InfoContext(ctx, "WebSocket session closed", "session_id", session.ID.String(), "user_id", session.UserID)
}

// CloseAll sends a shutdown close frame to every registered session. Their
// read loops then tear them down. Returns the number of sessions closed.
func (h *Handler) CloseAll(ctx context.Context) int {
	closed := 0
	for _, session := range h.registry.AllSessions() {
		if !session.BeginClose() {
			continue
		}
		if err := session.Conn.Close(shutdownReason); err != nil {
			slog.DebugContext(ctx, "Close on shutdown failed", "session_id", session.ID.String(), "error", err)
		}
		closed++
	}
	return closed
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}
