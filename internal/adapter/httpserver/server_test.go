package httpserver

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	"github.com/pscheid92/syncpulse/internal/app"
	"github.com/pscheid92/syncpulse/internal/broadcast"
	"github.com/pscheid92/syncpulse/internal/platform/config"
	"github.com/pscheid92/syncpulse/internal/platform/correlation"
)

const testRemoteAddr = "192.0.2.1:1234"

type stubUptime struct{}

func (stubUptime) Uptime() time.Duration { return 42 * time.Second }
func (stubUptime) Report() string        { return "Uptime: 42 seconds" }

type testServerOptions struct {
	healthChecks []HealthCheck
	opts         []Option
}

func newTestServer(t *testing.T, o testServerOptions) (*Server, *broadcast.Hub) {
	t.Helper()

	hub := broadcast.NewHub(0, nil)
	t.Cleanup(hub.Close)

	cfg := &config.Config{AppEnv: "development", Port: "0"}
	websocketStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := NewServer(cfg, app.NewNotificationService(hub), hub, stubUptime{}, websocketStub, o.healthChecks, o.opts...)
	return srv, hub
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// readSSEEvent reads one event block and returns its fields. Repeated data
// fields are joined with newlines.
func readSSEEvent(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	fields := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return fields
		}
		name, value, _ := strings.Cut(line, ":")
		if prev, ok := fields[name]; ok && name == "data" {
			value = prev + "\n" + value
		}
		fields[name] = value
	}
}

func TestNotificationStream_ConnectedThenNotification(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+routeNotificationStream, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	connected := readSSEEvent(t, reader)
	assert.Equal(t, "connected", connected["event"])
	assert.Equal(t, "", connected["data"])
	assert.NotEmpty(t, connected["id"])

	post, err := http.Post(ts.URL+routeSendNotification, "application/json", strings.NewReader(`{"message":"build \"42\" done"}`))
	require.NoError(t, err)
	_ = post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	notification := readSSEEvent(t, reader)
	assert.Equal(t, "notification", notification["event"])
	assert.JSONEq(t, `{"message":"build \"42\" done"}`, notification["data"])
	assert.NotEqual(t, connected["id"], notification["id"])
}

func TestNotificationStream_EndsWhenHubCloses(t *testing.T) {
	srv, hub := newTestServer(t, testServerOptions{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + routeNotificationStream)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	reader := bufio.NewReader(resp.Body)
	readSSEEvent(t, reader)

	hub.Close()

	_, err = reader.ReadString('\n')
	assert.Error(t, err, "stream must end after hub shutdown")
}

func TestWriteEvent_MultiLineData(t *testing.T) {
	var b strings.Builder
	err := writeEvent(&b, domainEvent("e1", "message", "first\nsecond\r\nthird"))

	require.NoError(t, err)
	assert.Equal(t, "id:e1\nevent:message\ndata:first\ndata:second\ndata:third\n\n", b.String())
}

func TestWriteEvent_EmptyData(t *testing.T) {
	var b strings.Builder
	require.NoError(t, writeEvent(&b, domainEvent("e2", "heartbeat", "")))
	assert.Equal(t, "id:e2\nevent:heartbeat\ndata:\n\n", b.String())
}

func TestSendNotification_RespondsWithOutcome(t *testing.T) {
	srv, hub := newTestServer(t, testServerOptions{})

	rec := doRequest(srv, http.MethodPost, routeSendNotification, `{"message":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Notification sent", rec.Body.String())
	assert.Equal(t, "no_subscribers", rec.Header().Get(headerDeliveryOutcome))

	sub := hub.Subscribe()
	defer sub.Close()

	rec = doRequest(srv, http.MethodPost, routeSendNotification, `{"message":"hello"}`)
	assert.Equal(t, "delivered", rec.Header().Get(headerDeliveryOutcome))
}

func TestSendNotification_Validation(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing message", `{"text":"hi"}`},
		{"malformed json", `{"message":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, routeSendNotification, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"type":"validation"`)
		})
	}
}

func TestSendNotification_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{})

	var last *httptest.ResponseRecorder
	for range notificationBurst + 5 {
		last = doRequest(srv, http.MethodPost, routeSendNotification, `{"message":"spam"}`)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), `"type":"rate_limited"`)
}

func TestHealthRoutes(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{
		healthChecks: []HealthCheck{{Name: "hub", Check: func(context.Context) error { return nil }}},
	})

	rec := doRequest(srv, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":42,"report":"Uptime: 42 seconds"}`, rec.Body.String())

	rec = doRequest(srv, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = doRequest(srv, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
}

func TestReadiness_FailedCheck(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{
		healthChecks: []HealthCheck{
			{Name: "hub", Check: func(context.Context) error { return nil }},
			{Name: "identity_service", Check: func(context.Context) error { return errors.New("circuit open") }},
		},
	})

	rec := doRequest(srv, http.MethodGet, "/health/ready", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","failed_check":"identity_service","error":"circuit open"}`, rec.Body.String())
}

func TestWebSocketRouteDelegates(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{})

	rec := doRequest(srv, http.MethodGet, routeWebSocket, "")

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCorrelationHeader(t *testing.T) {
	srv, _ := newTestServer(t, testServerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(correlation.HeaderName, "client-req-7")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "client-req-7", rec.Header().Get(correlation.HeaderName))

	rec = doRequest(srv, http.MethodGet, "/health/live", "")
	assert.Len(t, rec.Header().Get(correlation.HeaderName), 8)
}

func TestConnectionLimits_PerIPCapOnStream(t *testing.T) {
	limits := NewConnectionLimits(LimitsConfig{
		MaxConnections:       10,
		MaxConnectionsPerIP:  1,
		ConnectionsPerSecond: 100,
		Burst:                100,
	}, clockwork.NewRealClock())
	httpMetrics := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	srv, _ := newTestServer(t, testServerOptions{opts: []Option{
		WithConnectionLimits(limits),
		WithMetrics(httpMetrics, nil),
	}})

	ok, _ := limits.Acquire("192.0.2.1")
	require.True(t, ok)
	defer limits.Release("192.0.2.1")

	rec := doRequest(srv, http.MethodGet, routeNotificationStream, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"connection limit reached","type":"unavailable","context":{"reason":"per_ip_limit"}}`, rec.Body.String())
}

func TestConnectionLimits_RateOnWebSocket(t *testing.T) {
	limits := NewConnectionLimits(LimitsConfig{
		MaxConnections:       10,
		MaxConnectionsPerIP:  10,
		ConnectionsPerSecond: 0.001,
		Burst:                1,
	}, clockwork.NewFakeClock())
	srv, _ := newTestServer(t, testServerOptions{opts: []Option{WithConnectionLimits(limits)}})

	assert.Equal(t, http.StatusTeapot, doRequest(srv, http.MethodGet, routeWebSocket, "").Code)

	rec := doRequest(srv, http.MethodGet, routeWebSocket, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"rate_limit"`)

	assert.Zero(t, limits.Current(), "slots must be released when the handler returns")
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	srv, _ := newTestServer(t, testServerOptions{opts: []Option{WithMetrics(httpMetrics, metrics.Handler(reg))}})

	doRequest(srv, http.MethodGet, "/health/live", "")
	rec := doRequest(srv, http.MethodGet, routeMetrics, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "syncpulse_http_requests_total")
}
