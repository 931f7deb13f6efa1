package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestManager_CreateSessionCallsStreamingStart(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"stream_id": "stream-123"},
		})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.APIBaseURL = server.URL
	m := NewManager(cfg)
	defer m.Shutdown()

	s, err := m.CreateSession(context.Background(), "call-abc", "", FormatWAV, 8000, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.StreamID != "stream-123" {
		t.Fatalf("expected stream_id to be parsed from response, got %q", s.StreamID)
	}
	if gotPath != "/calls/call-abc/actions/streaming_start" {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
}

func TestManager_RetriesOnServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL
	cfg.RetryAttempts = 3
	m := NewManager(cfg)
	defer m.Shutdown()

	_, err := m.CreateSession(context.Background(), "call-retry", "", FormatWAV, 8000, 2, 1)
	if err != nil {
		t.Fatalf("expected retry to eventually succeed, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestManager_MaxConcurrentSessionsRejectsNewSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL
	cfg.MaxConcurrentSessions = 1
	m := NewManager(cfg)
	defer m.Shutdown()

	if _, err := m.CreateSession(context.Background(), "call-1", "", FormatWAV, 8000, 2, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.CreateSession(context.Background(), "call-2", "", FormatWAV, 8000, 2, 1); err == nil {
		t.Fatalf("expected second session to be rejected at max_concurrent_sessions")
	}
}
