package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/syncpulse/internal/adapter/identity"
	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/domain"
	"github.com/pscheid92/syncpulse/internal/registry"
)

const readTimeout = 2 * time.Second

type stubValidator struct {
	valid map[string]bool
}

func (s stubValidator) Validate(_ context.Context, credential string) (string, error) {
	if !s.valid[credential] {
		return "", domain.ErrInvalidCredential
	}
	return credential, nil
}

type countingValidator struct {
	calls atomic.Int32
}

func (c *countingValidator) Validate(_ context.Context, credential string) (string, error) {
	c.calls.Add(1)
	return credential, nil
}

type testEnv struct {
	handler  *Handler
	registry *registry.Registry
	activity *registry.ActivityTracker
	hub      *broadcast.Hub
	metrics  *metrics.WebSocketMetrics
	url      string
}

func newTestEnv(t *testing.T, mode Mode, credentials ...string) *testEnv {
	t.Helper()

	valid := make(map[string]bool, len(credentials))
	for _, c := range credentials {
		valid[c] = true
	}

	clock := clockwork.NewRealClock()
	wsMetrics := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	reg := registry.New(5, wsMetrics.ActiveSessions)
	activity := registry.NewActivityTracker(clock)
	hub := broadcast.NewHub(0, nil)

	h := NewHandler(Config{Mode: mode}, stubValidator{valid: valid}, reg, activity, hub, clock, wsMetrics)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.CloseAll(context.Background())
		hub.Close()
		srv.Close()
	})

	return &testEnv{
		handler:  h,
		registry: reg,
		activity: activity,
		hub:      hub,
		metrics:  wsMetrics,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (e *testEnv) dial(t *testing.T, credential string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(identity.HeaderSessionKey, credential)
	conn, resp, err := websocket.DefaultDialer.Dial(e.url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) waitForSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.registry.Len() == n }, readTimeout, 5*time.Millisecond)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(payload)
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	var ev domain.Event
	require.NoError(t, json.Unmarshal([]byte(readText(t, conn)), &ev))
	return ev
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"relay", "hub", "echo"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}

	_, err := ParseMode("broadcast")
	assert.Error(t, err)
}

func TestHandler_RejectsInvalidCredentialBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t, ModeRelay, "alice")

	for _, credential := range []string{"", "mallory"} {
		header := http.Header{}
		if credential != "" {
			header.Set(identity.HeaderSessionKey, credential)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(env.url, header)

		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Nil(t, conn)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Empty(t, body)
	}

	assert.Zero(t, env.registry.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.Rejections.WithLabelValues("invalid_credential")))
}

func TestHandler_ForeignOriginRejectedBeforeValidation(t *testing.T) {
	clock := clockwork.NewRealClock()
	wsMetrics := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	validator := &countingValidator{}
	h := NewHandler(Config{
		Mode:        ModeRelay,
		CheckOrigin: NewCheckOrigin("https://app.example.com", false),
	}, validator, registry.New(5, wsMetrics.ActiveSessions), registry.NewActivityTracker(clock), broadcast.NewHub(0, nil), clock, wsMetrics)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set(identity.HeaderSessionKey, "alice")
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(0), validator.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(wsMetrics.Rejections.WithLabelValues("origin")))
}

func TestHandler_SixthSessionIsClosedWithoutPayload(t *testing.T) {
	env := newTestEnv(t, ModeRelay, "alice")

	for i := 1; i <= 5; i++ {
		env.dial(t, "alice")
		env.waitForSessions(t, i)
	}

	sixth := env.dial(t, "alice")
	require.NoError(t, sixth.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := sixth.ReadMessage()

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNoStatusReceived, closeErr.Code)
	assert.Empty(t, closeErr.Text)

	assert.Equal(t, 5, env.registry.Count("alice"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Rejections.WithLabelValues("capacity")))
}

func TestHandler_RelayReachesEverySessionOfTheUser(t *testing.T) {
	env := newTestEnv(t, ModeRelay, "alice", "bob")

	a1 := env.dial(t, "alice")
	a2 := env.dial(t, "alice")
	b := env.dial(t, "bob")
	env.waitForSessions(t, 3)

	require.NoError(t, a1.WriteMessage(websocket.TextMessage, []byte("hello")))

	assert.Equal(t, "hello", readText(t, a1))
	assert.Equal(t, "hello", readText(t, a2))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "other users must not receive relayed messages")
}

func TestHandler_EchoRepliesToSenderOnly(t *testing.T) {
	env := newTestEnv(t, ModeEcho, "alice")

	a1 := env.dial(t, "alice")
	a2 := env.dial(t, "alice")
	env.waitForSessions(t, 2)

	require.NoError(t, a1.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "Echo: ping", readText(t, a1))

	require.NoError(t, a2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := a2.ReadMessage()
	assert.Error(t, err)
}

func TestHandler_HubModeFansOutAcrossUsers(t *testing.T) {
	env := newTestEnv(t, ModeHub, "alice", "bob")

	a := env.dial(t, "alice")
	b := env.dial(t, "bob")
	env.waitForSessions(t, 2)

	assert.Equal(t, domain.EventConnected, readEvent(t, a).Kind)
	assert.Equal(t, domain.EventConnected, readEvent(t, b).Kind)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("to everyone")))

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, domain.EventMessage, ev.Kind)
		assert.Equal(t, "to everyone", ev.Data)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestHandler_HubModeSkipsHeartbeatEvents(t *testing.T) {
	env := newTestEnv(t, ModeHub, "alice")

	a := env.dial(t, "alice")
	env.waitForSessions(t, 1)
	assert.Equal(t, domain.EventConnected, readEvent(t, a).Kind)

	env.hub.Publish(domain.NewEvent(domain.EventHeartbeat, ""))
	env.hub.Publish(domain.NewEvent(domain.EventNotification, `{"message":"hi"}`))

	ev := readEvent(t, a)
	assert.Equal(t, domain.EventNotification, ev.Kind)
}

func TestHandler_DisconnectDeregisters(t *testing.T) {
	env := newTestEnv(t, ModeRelay, "alice")

	conn := env.dial(t, "alice")
	env.waitForSessions(t, 1)
	assert.Equal(t, 1, env.activity.Len())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	env.waitForSessions(t, 0)
	require.Eventually(t, func() bool { return env.activity.Len() == 0 }, readTimeout, 5*time.Millisecond)
	assert.Zero(t, env.registry.Users())
}

func TestHandler_InboundMessageTouchesActivity(t *testing.T) {
	env := newTestEnv(t, ModeEcho, "alice")

	conn := env.dial(t, "alice")
	env.waitForSessions(t, 1)
	session := env.registry.SessionsFor("alice")[0]
	before, ok := env.activity.LastActivity(session.ID)
	require.True(t, ok)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	readText(t, conn)

	after, ok := env.activity.LastActivity(session.ID)
	require.True(t, ok)
	assert.True(t, after.After(before))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MessagesReceived))
}

func TestHandler_CloseAllSendsShutdownFrame(t *testing.T) {
	env := newTestEnv(t, ModeRelay, "alice", "bob")

	a := env.dial(t, "alice")
	b := env.dial(t, "bob")
	env.waitForSessions(t, 2)

	assert.Equal(t, 2, env.handler.CloseAll(context.Background()))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		assert.Equal(t, "server shutting down", closeErr.Text)
	}

	env.waitForSessions(t, 0)
}
