package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/progfed/progfed/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func registerServer(t *testing.T, reg *registry.Registry, id, baseURL string) {
	t.Helper()
	err := reg.Register(registry.ServerDescriptor{
		ServerID: id,
		Name:     "program",
		BaseURL:  baseURL,
		Status:   registry.StatusHealthy,
	}, time.Minute)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func fastConfig() Config {
	return Config{
		Timeout:     2 * time.Second,
		RetryDelay:  time.Millisecond,
		RetryJitter: time.Millisecond,
	}
}

func TestGetDecodesBodyAndMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/programs/P1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"programId": "P1"},
		})
	}))
	defer srv.Close()

	reg := registry.New(testLogger())
	registerServer(t, reg, "svc-a", srv.URL)

	c := New(reg, testLogger(), WithConfig(fastConfig()))
	resp, err := c.Get(context.Background(), "svc-a", "/api/programs/P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if resp.ServerID != "svc-a" {
		t.Fatalf("expected metadata serverId svc-a, got %s", resp.ServerID)
	}
	if resp.Attempts != 1 {
		t.Fatalf("expected single attempt, got %d", resp.Attempts)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ProgramID string `json:"programId"`
		} `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Data.ProgramID != "P1" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	reg := registry.New(testLogger())
	registerServer(t, reg, "svc-a", srv.URL)

	c := New(reg, testLogger(), WithConfig(fastConfig()))
	if _, err := c.Post(context.Background(), "svc-a", "/api/milestones", map[string]string{"milestoneId": "M-1"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if received["milestoneId"] != "M-1" {
		t.Fatalf("expected posted body forwarded, got %v", received)
	}
}

func TestUnknownServerFailsBeforeNetwork(t *testing.T) {
	reg := registry.New(testLogger())
	c := New(reg, testLogger(), WithConfig(fastConfig()))

	_, err := c.Get(context.Background(), "svc-ghost", "/api/whatever")

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.ServerID != "svc-ghost" {
		t.Fatalf("expected target id on error, got %s", nf.ServerID)
	}
}

func TestNon2xxIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := registry.New(testLogger())
	registerServer(t, reg, "svc-a", srv.URL)

	c := New(reg, testLogger(), WithConfig(fastConfig()))
	_, err := c.Get(context.Background(), "svc-a", "/api/programs")

	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if ce.TargetServer != "svc-a" || ce.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error details: %+v", ce)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected no retry on application error, got %d attempts", hits.Load())
	}
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	srvURL := srv.URL
	srv.Close() // connection refused from here on

	reg := registry.New(testLogger())
	registerServer(t, reg, "svc-a", srvURL)

	c := New(reg, testLogger(), WithConfig(fastConfig()))
	start := time.Now()
	_, err := c.Get(context.Background(), "svc-a", "/api/programs")
	if err == nil {
		t.Fatal("expected error against closed server")
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if ce.Status != 0 {
		t.Fatalf("expected transport-level failure, got status %d", ce.Status)
	}
	// Rough signal that the retry delay was taken once.
	if time.Since(start) < time.Millisecond {
		t.Fatal("expected at least one retry delay")
	}
}

func TestMalformedJSONBodyIsCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	reg := registry.New(testLogger())
	registerServer(t, reg, "svc-a", srv.URL)

	c := New(reg, testLogger(), WithConfig(fastConfig()))
	_, err := c.Get(context.Background(), "svc-a", "/api/programs")

	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CallError for malformed body, got %v", err)
	}
}

func TestExpiredRegistrationFailsResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	reg := registry.New(testLogger())
	err := reg.Register(registry.ServerDescriptor{
		ServerID: "svc-a",
		BaseURL:  srv.URL,
		Status:   registry.StatusHealthy,
	}, time.Nanosecond)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	c := New(reg, testLogger(), WithConfig(fastConfig()))
	_, err = c.Get(context.Background(), "svc-a", "/health")

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError after expiry, got %v", err)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"http://localhost:4001", "/api/programs", "http://localhost:4001/api/programs"},
		{"http://localhost:4001/", "/api/programs", "http://localhost:4001/api/programs"},
		{"http://localhost:4001", "api/programs", "http://localhost:4001/api/programs"},
	}

	for _, tt := range tests {
		got, err := joinURL(tt.base, tt.path)
		if err != nil {
			t.Fatalf("joinURL(%q, %q): %v", tt.base, tt.path, err)
		}
		if got != tt.want {
			t.Errorf("joinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}
