package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/platform/config"
	"github.com/pscheid92/eventrelay/internal/platform/correlation"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/pscheid92/eventrelay/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockRelay struct {
	snapshot    relay.Snapshot
	servePortFn func(ctx context.Context, conn *websocket.Conn, cfg relay.PortConfig) error
}

func (m *mockRelay) ServePort(ctx context.Context, conn *websocket.Conn, cfg relay.PortConfig) error {
	if m.servePortFn != nil {
		return m.servePortFn(ctx, conn, cfg)
	}
	return conn.Close()
}

func (m *mockRelay) Snapshot() relay.Snapshot { return m.snapshot }

type mockUpstream struct {
	status upstream.Status
}

func (m *mockUpstream) Status() upstream.Status { return m.status }

// --- Helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:         "test",
		Port:           "0",
		AppURL:         "https://relay.example.com",
		PortBufferSize: 16,
	}
}

func newTestServer(t *testing.T, r relayService, u upstreamService, opts ...Option) *Server {
	t.Helper()
	return NewServer(testConfig(), r, u, opts...)
}

func do(t *testing.T, srv *Server, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

var (
	setTopic  = domain.NewTopic(domain.EventEmoteSetUpdate, "01HQ8Z4V6XK3M2N5P7R9S1T3W5")
	userTopic = domain.NewTopic(domain.EventUserUpdate, "01HQ8Z4V6XK3M2N5P7R9S1T3W6")
)

func sampleSnapshot() relay.Snapshot {
	return relay.Snapshot{
		Ports:    2,
		Handlers: 3,
		Topics: []relay.TopicHandlers{
			{Topic: setTopic, Handlers: 2},
			{Topic: userTopic, Handlers: 1},
		},
	}
}

// --- Health ---

func TestHandleStartup(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{},
		WithHealthChecks(HealthCheck{Name: "redis", Check: healthOK}))

	rec := do(t, srv, "/health/startup")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleStartup_RedisDown(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{},
		WithHealthChecks(HealthCheck{Name: "redis", Check: healthErr("connection refused")}))

	rec := do(t, srv, "/health/startup")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"failed_check":"redis"`)
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{})

	rec := do(t, srv, "/health/live")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name       string
		state      upstream.State
		lastError  string
		wantStatus int
		wantBody   string
	}{
		{"idle is ready", upstream.StateIdle, "", http.StatusOK, `"status":"ready"`},
		{"reconnecting is ready", upstream.StateReconnecting, "dial failed", http.StatusOK, `"status":"ready"`},
		{"stopped is not ready", upstream.StateStopped, "close 4005", http.StatusServiceUnavailable, `"failed_check":"upstream"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockRelay{}, &mockUpstream{status: upstream.Status{State: tt.state, LastError: tt.lastError}})

			rec := do(t, srv, "/health/ready")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{})

	rec := do(t, srv, "/version")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
}

// --- API ---

func TestHandleTopics(t *testing.T) {
	srv := newTestServer(t, &mockRelay{snapshot: sampleSnapshot()}, &mockUpstream{})

	rec := do(t, srv, "/api/topics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"ports": 2,
		"handlers": 3,
		"topics": [
			{"topic": {"type": "emote_set.update", "id": "01HQ8Z4V6XK3M2N5P7R9S1T3W5"}, "handlers": 2},
			{"topic": {"type": "user.update", "id": "01HQ8Z4V6XK3M2N5P7R9S1T3W6"}, "handlers": 1}
		]
	}`, rec.Body.String())
}

func TestHandleTopics_Filter(t *testing.T) {
	srv := newTestServer(t, &mockRelay{snapshot: sampleSnapshot()}, &mockUpstream{})

	for _, filter := range []string{"user.update", "user.*"} {
		rec := do(t, srv, "/api/topics?type="+filter)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp topicsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Topics, 1, filter)
		assert.Equal(t, userTopic, resp.Topics[0].Topic)
	}
}

func TestHandleTopics_InvalidFilter(t *testing.T) {
	srv := newTestServer(t, &mockRelay{snapshot: sampleSnapshot()}, &mockUpstream{})

	rec := do(t, srv, "/api/topics?type=bogus")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestHandleStatus(t *testing.T) {
	connectedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, &mockRelay{snapshot: sampleSnapshot()}, &mockUpstream{status: upstream.Status{
		State:             upstream.StateReady,
		SessionID:         "abc",
		SubscriptionLimit: 500,
		DesiredTopics:     2,
		ConnectedAt:       connectedAt,
	}})

	rec := do(t, srv, "/api/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	up := resp["upstream"].(map[string]any)
	assert.Equal(t, "ready", up["state"])
	assert.Equal(t, "abc", up["session_id"])
	assert.Equal(t, map[string]any{"ports": float64(2), "handlers": float64(3), "topics": float64(2)}, resp["relay"])
	assert.Contains(t, resp, "version")
}

func TestAPIRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.APIRateLimit = 0.01
	cfg.APIRateBurst = 1
	srv := NewServer(cfg, &mockRelay{snapshot: sampleSnapshot()}, &mockUpstream{})

	assert.Equal(t, http.StatusOK, do(t, srv, "/api/status").Code)

	rec := do(t, srv, "/api/status")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate limit exceeded", resp.Error)
	assert.Equal(t, apperrors.TypeRateLimit, resp.Type)

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, do(t, srv, "/health/live").Code)
}

// --- Middleware ---

func TestCorrelationHeader(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{})

	rec := do(t, srv, "/health/live", correlation.Header, "trace-7")
	assert.Equal(t, "trace-7", rec.Header().Get(correlation.Header))

	rec = do(t, srv, "/health/live")
	assert.Len(t, rec.Header().Get(correlation.Header), 8)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	srv := newTestServer(t, &mockRelay{snapshot: sampleSnapshot()}, &mockUpstream{}, WithMetrics(reg, httpMetrics))

	do(t, srv, "/api/topics?type=bogus")
	rec := do(t, srv, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `eventrelay_http_requests_total{method="GET",route="/api/topics",status_code="400"} 1`)
	assert.Contains(t, rec.Body.String(), `eventrelay_http_errors_total{type="validation"} 1`)
}

func TestMetricsEndpoint_AbsentWithoutRegistry(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{})

	rec := do(t, srv, "/metrics")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	srv := newTestServer(t, &mockRelay{}, &mockUpstream{})
	srv.echo.GET("/panic", func(echo.Context) error { panic("boom") })

	rec := do(t, srv, "/panic")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

// --- WebSocket ---

type stubUpstream struct{}

func (stubUpstream) Subscribe(domain.Topic) error   { return nil }
func (stubUpstream) Unsubscribe(domain.Topic) error { return nil }
func (stubUpstream) SubscriptionLimit() int         { return 0 }

func TestHandlePort_EndToEnd(t *testing.T) {
	r := relay.New(relay.Config{}, stubUpstream{}, clockwork.NewRealClock())
	t.Cleanup(r.Stop)
	srv := newTestServer(t, r, &mockUpstream{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://relay.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(relay.Request{Type: relay.RequestSubscribe, DispatchType: domain.EventEmoteSetUpdate, ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W5", HandlerID: "h1"}))
	assert.Eventually(t, func() bool { return r.Snapshot().Handlers == 1 }, 2*time.Second, 10*time.Millisecond)

	r.OnDispatch(domain.Dispatch{Type: domain.EventEmoteSetUpdate, Body: domain.ChangeMap{ID: "01HQ8Z4V6XK3M2N5P7R9S1T3W5"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg relay.PortMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, []domain.HandlerID{"h1"}, msg.HandlerIDs)
}

func TestHandlePort_RejectsForeignOrigin(t *testing.T) {
	called := false
	srv := newTestServer(t, &mockRelay{servePortFn: func(context.Context, *websocket.Conn, relay.PortConfig) error {
		called = true
		return nil
	}}, &mockUpstream{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, called)
}

func TestHandlePort_PassesPortConfig(t *testing.T) {
	got := make(chan relay.PortConfig, 1)
	srv := newTestServer(t, &mockRelay{servePortFn: func(_ context.Context, conn *websocket.Conn, cfg relay.PortConfig) error {
		got <- cfg
		return conn.Close()
	}}, &mockUpstream{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case cfg := <-got:
		assert.Equal(t, 16, cfg.BufferSize)
	case <-time.After(2 * time.Second):
		t.Fatal("ServePort not called")
	}
}
