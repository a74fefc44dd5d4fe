package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/session"
	"github.com/lypsing/lilybot/telemetry"
)

func init() { telemetry.Init() }

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewMux(deps))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body != "ok" {
		t.Errorf("body = %q", body)
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, body := get(t, srv.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body != "ready" {
		t.Errorf("body = %q", body)
	}
}

func TestStatus(t *testing.T) {
	q := queue.NewEngine()
	q.Append("chan-1", queue.Request{Title: "Song A", Requester: "Alice"})
	q.Append("chan-1", queue.Request{Title: "Song B", Requester: "Bob"})
	if _, err := q.Advance("chan-1"); err != nil {
		t.Fatal(err)
	}
	reg := session.NewRegistry()
	if _, err := reg.Start(context.Background(), "chan-1", "vid-1"); err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(t, Deps{Queue: q, Registry: reg})
	resp, body := get(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got struct {
		UptimeSeconds  int64             `json:"uptime_seconds"`
		ActiveSessions map[string]string `json:"active_sessions"`
		Queues         map[string]struct {
			Total       int `json:"total"`
			PlayedIndex int `json:"played_index"`
		} `json:"queues"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", body, err)
	}
	if got.ActiveSessions["chan-1"] != "vid-1" {
		t.Errorf("active sessions = %v", got.ActiveSessions)
	}
	sq, ok := got.Queues["chan-1"]
	if !ok || sq.Total != 2 || sq.PlayedIndex != 1 {
		t.Errorf("queues = %v", got.Queues)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, _ := get(t, srv.URL+"/healthz")
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing generated correlation id")
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Correlation-ID", "corr-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want echoed corr-123", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, _ := get(t, srv.URL+"/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
