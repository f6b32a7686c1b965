package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatbroker/internal/broker"
)

func TestHealthAndSessions(t *testing.T) {
	b := broker.New(broker.Config{Addr: "127.0.0.1:0"})
	api := New(b)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	healthResp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", healthResp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Sessions != 0 {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	sessResp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	defer sessResp.Body.Close()
	var sessions sessionsResponse
	if err := json.NewDecoder(sessResp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions.Sessions) != 0 {
		t.Fatalf("expected no sessions, got %#v", sessions.Sessions)
	}

	chResp, err := http.Get(ts.URL + "/api/channels")
	if err != nil {
		t.Fatalf("GET /api/channels: %v", err)
	}
	defer chResp.Body.Close()
	var channels channelsResponse
	if err := json.NewDecoder(chResp.Body).Decode(&channels); err != nil {
		t.Fatalf("decode channels: %v", err)
	}
	if len(channels.Channels) != 0 {
		t.Fatalf("expected no channels, got %#v", channels.Channels)
	}

	metricsResp, err := http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("GET /api/metrics: %v", err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/metrics, got %d", metricsResp.StatusCode)
	}
}
