package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/unibox/internal/config"
	"github.com/haasonsaas/unibox/internal/relay"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(Options{Config: cfg, Logger: logger, Version: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close(context.Background())
	})
	return s, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Status != "ok" || body.Database != "memory" || body.Version != "test" {
		t.Fatalf("health = %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// Touch an API route so the HTTP histogram has a sample.
	if resp, err := http.Get(ts.URL + "/api/channels"); err == nil {
		resp.Body.Close()
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)
	for _, want := range []string{"go_goroutines", `route="GET /api/channels"`} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestDefaultUserSession(t *testing.T) {
	_, ts := newTestServer(t, nil)

	body := strings.NewReader(`{"channel_type":"slack","display_name":"Work","credentials":{"access_token":"xoxb-1"}}`)
	resp, err := http.Post(ts.URL+"/api/channels", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/channels error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/channels")
	if err != nil {
		t.Fatalf("GET /api/channels error = %v", err)
	}
	defer resp.Body.Close()
	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(list) != 1 || list[0]["user_id"] != "local" {
		t.Fatalf("channels = %v", list)
	}
}

func TestAuthRequiredWhenKeysConfigured(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.APIKeys = []config.APIKeyConfig{{Key: "k1", UserID: "ada"}}
	})

	resp, err := http.Get(ts.URL + "/api/channels")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	// The callback page is reached by the provider redirect and never
	// carries credentials.
	resp, err = http.Get(ts.URL + "/oauth/slack/callback?error=access_denied")
	if err != nil {
		t.Fatalf("GET callback error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d, want 200", resp.StatusCode)
	}

	// Health checks stay public.
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestUnconfiguredProvider(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/oauth/slack")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["error"] != "Configuration error" {
		t.Fatalf("error = %q, want Configuration error", body["error"])
	}
}

func TestCallbackReachesRelayListener(t *testing.T) {
	_, ts := newTestServer(t, nil)

	source, err := relay.NewWSSource(ts.URL, "", nil)
	if err != nil {
		t.Fatalf("NewWSSource() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	envelopes, stop, err := source.Listen(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer stop()

	resp, err := http.Get(ts.URL + "/oauth/slack/callback?state=attempt-1&error=access_denied&error_description=User+denied")
	if err != nil {
		t.Fatalf("GET callback error = %v", err)
	}
	resp.Body.Close()

	select {
	case env, ok := <-envelopes:
		if !ok {
			t.Fatal("relay closed before delivering")
		}
		if !env.IsError("slack") || env.Error != "User denied" || env.State != "attempt-1" {
			t.Fatalf("envelope = %+v", env)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for envelope")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Sync.Enabled = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(Options{Config: cfg, Logger: logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestInvalidSyncSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.Enabled = true
	cfg.Sync.Schedule = "not a schedule"
	if _, err := New(Options{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}); err == nil {
		t.Fatal("New() error = nil, want schedule error")
	}
}
