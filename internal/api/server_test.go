package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamlink/jamlink/internal/config"
	"github.com/jamlink/jamlink/internal/registry"
	"github.com/jamlink/jamlink/internal/router"
	"github.com/jamlink/jamlink/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestAPI(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	// Keep rate limits out of the way for functional tests.
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000

	reg := registry.New(testLogger)
	rt := router.New(reg, testLogger, router.Options{})
	srv := NewServer(st, rt, cfg, testLogger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		m = nil
	}
	return resp, m
}

func createCatalogSession(t *testing.T, ts *httptest.Server, name string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", `{"session_name":"`+name+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d (%v)", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create session: missing id in %v", body)
	}
	return id
}

func TestRootEndpoint(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["message"] != "Music Sync Server Ready" {
		t.Errorf("unexpected root message: %v", body)
	}
}

func TestCreateSession(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", `{"session_name":"friday jam"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if body["session_name"] != "friday jam" {
		t.Errorf("expected session_name echoed back, got %v", body)
	}
	if body["is_active"] != true {
		t.Errorf("expected new session active, got %v", body["is_active"])
	}
	if body["id"] == "" {
		t.Error("expected generated id")
	}
	if body["client_count"] != 0.0 {
		t.Errorf("expected client_count 0, got %v", body["client_count"])
	}
}

func TestCreateSession_Validation(t *testing.T) {
	_, ts := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty name", `{"session_name":""}`},
		{"missing name", `{}`},
		{"name too long", `{"session_name":"` + strings.Repeat("x", 129) + `"}`},
		{"bad json", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	_, ts := newTestAPI(t)

	// Empty catalog lists as an empty array, not null.
	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sessions []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if sessions == nil || len(sessions) != 0 {
		t.Fatalf("expected empty array, got %v", sessions)
	}

	createCatalogSession(t, ts, "one")
	createCatalogSession(t, ts, "two")

	resp2, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestGetSession(t *testing.T) {
	_, ts := newTestAPI(t)
	id := createCatalogSession(t, ts, "lookup me")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["session_name"] != "lookup me" {
		t.Errorf("unexpected session: %v", body)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/nonexistent", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body["error"] != "Session not found" {
		t.Errorf("unexpected error body: %v", body)
	}
}

func TestCloseSession(t *testing.T) {
	_, ts := newTestAPI(t)
	id := createCatalogSession(t, ts, "to close")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/close", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "closed" {
		t.Errorf("expected status closed, got %v", body)
	}

	// Closing again is idempotent.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/close", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on repeat close, got %d", resp.StatusCode)
	}
	if body["status"] != "already_closed" {
		t.Errorf("expected status already_closed, got %v", body)
	}

	// Closed sessions drop out of the listing.
	listResp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var sessions []map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected closed session out of listing, got %v", sessions)
	}
}

func TestCloseSession_NotFound(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/nonexistent/close", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["live_sessions"] != 0.0 || body["live_connections"] != 0.0 {
		t.Errorf("expected zero live stats, got %v", body)
	}

	// A connected participant shows up in the stats.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/conn-1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body = doJSON(t, http.MethodGet, ts.URL+"/api/stats", "")
		if body["live_connections"] == 1.0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if body["live_connections"] != 1.0 {
		t.Errorf("expected 1 live connection, got %v", body["live_connections"])
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected healthz body: %v", body)
	}
}

func TestReadyz(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ready" {
		t.Errorf("unexpected readyz body: %v", body)
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/", "")
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestAPI(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard allow-origin, got %q", got)
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	_, ts := newTestAPI(t)

	base := "ws" + strings.TrimPrefix(ts.URL, "http")
	host, _, err := websocket.DefaultDialer.Dial(base+"/ws/host-1", nil)
	if err != nil {
		t.Fatalf("dial host: %v", err)
	}
	defer host.Close()

	if err := host.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"host_create_session","session_id":"sess-1","session_name":"jam"}`)); err != nil {
		t.Fatal(err)
	}
	host.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := host.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg["type"] != "session_created" || msg["session_id"] != "sess-1" {
		t.Fatalf("unexpected confirmation: %v", msg)
	}
}
