package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"roomcast/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		ListenAddr:  "127.0.0.1:0",
		STUNServers: []string{"stun:stun.example.com:3478"},
	}
	s := New(cfg, discardLogger(), BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, body)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	_, srv := newTestServer(t)

	var body map[string]any
	if status := getJSON(t, srv.URL+"/healthz", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyz_FollowsLifecycle(t *testing.T) {
	s, srv := newTestServer(t)

	var body map[string]any
	if status := getJSON(t, srv.URL+"/readyz", &body); status != http.StatusServiceUnavailable {
		t.Fatalf("status before serve = %d", status)
	}

	s.ready.Store(true)
	if status := getJSON(t, srv.URL+"/readyz", &body); status != http.StatusOK {
		t.Fatalf("status after serve = %d", status)
	}
}

func TestVersion(t *testing.T) {
	_, srv := newTestServer(t)

	var build BuildInfo
	if status := getJSON(t, srv.URL+"/version", &build); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if build.Commit != "abc123" {
		t.Fatalf("build = %+v", build)
	}
}

func TestICEConfig(t *testing.T) {
	_, srv := newTestServer(t)

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if status := getJSON(t, srv.URL+"/webrtc/ice", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ice config = %+v", body)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	_, srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	// A missing request id is generated.
	resp2, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.Header.Get("X-Request-ID") == "" {
		t.Fatalf("no generated request id")
	}
}
