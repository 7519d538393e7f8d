package api

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

	"github.com/nerrad567/lakeshore-logger/internal/channel"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/config"
	"github.com/nerrad567/lakeshore-logger/internal/infrastructure/logging"
	"github.com/nerrad567/lakeshore-logger/internal/scheduler"
	"github.com/nerrad567/lakeshore-logger/internal/series"
	"github.com/nerrad567/lakeshore-logger/internal/store"
)

func f(v float64) *float64 { return &v }

type fakeHistory struct {
	samples []store.Sample
	err     error
	healthy error
	last    store.Range
}

func (h *fakeHistory) Query(_ context.Context, r store.Range) ([]store.Sample, error) {
	h.last = r
	return h.samples, h.err
}

func (h *fakeHistory) HealthCheck(context.Context) error { return h.healthy }

type fakeStatus struct{}

func (fakeStatus) State() scheduler.State { return scheduler.StateWaiting }
func (fakeStatus) Cycles() uint64         { return 42 }

func testChannels() []channel.Channel {
	return []channel.Channel{
		{Source: "LS336", Name: "A.temperature[K]", Query: "TEMP? 1"},
		{Source: "LS336", Name: "B.temperature[K]", Query: "TEMP? 2"},
	}
}

// testServer creates a Server backed by an in-memory cache and fake history.
func testServer(t *testing.T) (*Server, *fakeHistory) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")
	history := &fakeHistory{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS:     config.CORSConfig{AllowedOrigins: []string{"http://lab.local"}},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Channels:   testChannels(),
		Cache:      series.NewCache(),
		History:    history,
		Status:     fakeStatus{},
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics\n")) }), //nolint:errcheck // Test handler
		TrendWidth: 4,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, history
}

func testCycle() scheduler.Cycle {
	return scheduler.Cycle{
		Index:     3,
		Timestamp: "2026-01-02T03:04:05.000000+00:00",
		Rows: []scheduler.Row{
			{Source: "LS336", Channel: "A.temperature[K]", Value: f(79.2)},
			{Source: "LS336", Channel: "B.temperature[K]", Warning: "LS336 returned non-numeric value for B.temperature[K]: \"OVL\""},
		},
		Warnings:  []string{"LS336 returned non-numeric value for B.temperature[K]: \"OVL\""},
		Persisted: true,
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Cache: series.NewCache()}); err == nil {
		t.Error("New() without logger error = nil")
	}
	log := logging.New(config.LoggingConfig{Output: "discard"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without cache error = nil")
	}
}

func TestHealth(t *testing.T) {
	srv, history := testServer(t)
	router := srv.buildRouter()

	rec := get(t, router, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	history.healthy = errors.New("database is locked")
	rec = get(t, router, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rec.Code)
	}
}

func TestReadings_BeforeFirstCycle(t *testing.T) {
	srv, _ := testServer(t)

	rec := get(t, srv.buildRouter(), "/api/v1/readings")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[ReadingsResponse](t, rec)
	if resp.Cycle != 0 || len(resp.Readings) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	for _, r := range resp.Readings {
		if r.Value != nil {
			t.Errorf("%s value = %v, want null", r.Channel, *r.Value)
		}
		if r.Trend != "····" {
			t.Errorf("%s trend = %q, want placeholder", r.Channel, r.Trend)
		}
	}
}

func TestReadings_AfterPresent(t *testing.T) {
	srv, _ := testServer(t)
	c := testCycle()
	for _, row := range c.Rows {
		srv.cache.Record(row.Key(), row.Value)
	}
	if err := srv.Present(context.Background(), c); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	resp := decode[ReadingsResponse](t, get(t, srv.buildRouter(), "/api/v1/readings"))
	if resp.Cycle != 3 || resp.Timestamp != c.Timestamp || !resp.Persisted {
		t.Errorf("resp header = %+v", resp)
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("Warnings = %v, want 1", resp.Warnings)
	}

	a, b := resp.Readings[0], resp.Readings[1]
	if a.Value == nil || *a.Value != 79.2 || a.Unit != "K" || a.Trend != "▆   " {
		t.Errorf("reading A = %+v", a)
	}
	if b.Value != nil || b.Warning == "" {
		t.Errorf("reading B = %+v, want null with warning", b)
	}
}

func TestSeries(t *testing.T) {
	srv, _ := testServer(t)
	key := channel.Key{Source: "LS336", Channel: "A.temperature[K]"}
	srv.cache.Record(key, f(1))
	srv.cache.Record(key, nil)
	srv.cache.Record(key, f(2))
	router := srv.buildRouter()

	rec := get(t, router, "/api/v1/series/LS336/A.temperature%5BK%5D")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decode[SeriesResponse](t, rec)
	if resp.Capacity != series.Capacity || len(resp.Points) != 3 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Points[1].Value != nil || resp.Points[2].Value == nil || *resp.Points[2].Value != 2 {
		t.Errorf("points = %+v", resp.Points)
	}
	if resp.Trend != "▁·█ " {
		t.Errorf("trend = %q, want %q", resp.Trend, "▁·█ ")
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/series/LS336/A.temperature%5BK%5D?width=2", http.StatusOK},
		{"/api/v1/series/LS336/A.temperature%5BK%5D?width=0", http.StatusBadRequest},
		{"/api/v1/series/LS336/A.temperature%5BK%5D?width=x", http.StatusBadRequest},
		{"/api/v1/series/LS999/A.temperature%5BK%5D", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := get(t, router, tt.path); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestSamples(t *testing.T) {
	srv, history := testServer(t)
	extra := "note"
	history.samples = []store.Sample{
		{ID: 1, Timestamp: "2026-01-02T00:00:00.000000+00:00", Source: "LS336", Channel: "A.temperature[K]", Value: f(79.2)},
		{ID: 2, Timestamp: "2026-01-02T00:00:00.000000+00:00", Source: "LS336", Channel: "B.temperature[K]", Extra: &extra},
	}

	rec := get(t, srv.buildRouter(), "/api/v1/samples?start=2026-01-02&end=2026-01-02&source=LS336&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decode[SamplesResponse](t, rec)
	if resp.Count != 2 || resp.Samples[1].Value != nil || *resp.Samples[1].Extra != "note" {
		t.Errorf("resp = %+v", resp)
	}

	want := store.Range{
		Start:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 1, 2, 23, 59, 59, 999999000, time.UTC),
		Source: "LS336",
		Limit:  5,
	}
	if !history.last.Start.Equal(want.Start) || !history.last.End.Equal(want.End) ||
		history.last.Source != want.Source || history.last.Limit != want.Limit {
		t.Errorf("range = %+v, want %+v", history.last, want)
	}
}

func TestSamples_Errors(t *testing.T) {
	srv, history := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"bad start", "/api/v1/samples?start=yesterday", nil, http.StatusBadRequest},
		{"end before start", "/api/v1/samples?start=2026-01-03&end=2026-01-02", nil, http.StatusBadRequest},
		{"bad limit", "/api/v1/samples?limit=0", nil, http.StatusBadRequest},
		{"limit too large", "/api/v1/samples?limit=10001", nil, http.StatusBadRequest},
		{"busy", "/api/v1/samples", store.ErrContention, http.StatusServiceUnavailable},
		{"failure", "/api/v1/samples", errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history.err = tt.err
			if rec := get(t, router, tt.path); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSamples_NoHistory(t *testing.T) {
	srv, _ := testServer(t)
	srv.history = nil
	if rec := get(t, srv.buildRouter(), "/api/v1/samples"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Present(context.Background(), testCycle()); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	resp := decode[StatusResponse](t, get(t, srv.buildRouter(), "/api/v1/status"))
	if resp.State != "waiting" || resp.Cycles != 42 || resp.Channels != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.LastCycle == nil || resp.LastCycle.Index != 3 || resp.LastCycle.NullCount != 1 {
		t.Errorf("LastCycle = %+v", resp.LastCycle)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := testServer(t)
	rec := get(t, srv.buildRouter(), "/metrics")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "# metrics") {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/readings", nil)
	req.Header.Set("Origin", "http://lab.local")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://lab.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://elsewhere")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for foreign origin = %q, want empty", got)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWebSocket_CycleBroadcast(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{WSChannelCycle}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	if err := srv.Present(context.Background(), testCycle()); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	event := readWS(t, ws)
	if event.Type != WSTypeEvent || event.EventType != WSChannelCycle {
		t.Fatalf("event = %+v", event)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok || payload["index"] != float64(3) {
		t.Errorf("payload = %v", event.Payload)
	}
	if rows, _ := payload["rows"].([]any); len(rows) != 2 {
		t.Errorf("payload rows = %v, want 2", payload["rows"])
	}
}

func TestWebSocket_ReplayOnSubscribe(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Present(context.Background(), testCycle()); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		Payload: WSSubscribePayload{Channels: []string{WSChannelCycle}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	if resp := readWS(t, ws); resp.Type != WSTypeResponse {
		t.Fatalf("first message = %+v, want response", resp)
	}
	if event := readWS(t, ws); event.Type != WSTypeEvent || event.EventType != WSChannelCycle {
		t.Errorf("second message = %+v, want replayed cycle", event)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()
	ws := dialWS(t, ts)

	tests := []struct {
		name string
		send string
		want string
	}{
		{"ping", `{"type":"ping","id":"p1"}`, WSTypePong},
		{"invalid json", `not json`, WSTypeError},
		{"unknown type", `{"type":"reboot"}`, WSTypeError},
		{"empty subscribe", `{"type":"subscribe","payload":{"channels":[]}}`, WSTypeError},
		{"unsubscribe", `{"type":"unsubscribe","payload":{"channels":["cycle"]}}`, WSTypeResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if msg := readWS(t, ws); msg.Type != tt.want {
				t.Errorf("reply type = %s, want %s", msg.Type, tt.want)
			}
		})
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Dial() error = nil, want handshake failure")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestStartClose(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start error = nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close() //nolint:errcheck // Test cleanup

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
