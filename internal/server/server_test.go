package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vodforge/internal/analytics"
	"vodforge/internal/api"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/pipeline"
	"vodforge/internal/progress"
	"vodforge/internal/storage"
	"vodforge/internal/transcode"
	"vodforge/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	repo, err := storage.NewMemoryRepository("")
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	registry := progress.NewRegistry()
	assembler := upload.NewAssembler(t.TempDir(), testLogger(), nil)
	coordinator := pipeline.NewCoordinator(repo, nil, &transcode.Orchestrator{}, registry, metrics.New(), testLogger(), t.TempDir(), 8)
	handler := api.NewHandler(repo, assembler, coordinator, registry)
	handler.Logger = testLogger()
	handler.Metrics = metrics.New()
	handler.UploadDir = t.TempDir()
	handler.Analytics = analytics.NewMemoryTracker(30 * time.Second)

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{Logger: testLogger()})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	ts := newTestServer(t, Config{
		Logger:   testLogger(),
		Security: SecurityConfig{MediaOrigin: "https://cdn.example.com"},
	})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	csp := resp.Header.Get("Content-Security-Policy")
	if csp == "" {
		t.Fatal("expected Content-Security-Policy header")
	}
	if !strings.Contains(csp, "media-src 'self' https://cdn.example.com") {
		t.Fatalf("expected media origin in CSP, got %q", csp)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected nosniff header")
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestIndexAndPlayerPagesServed(t *testing.T) {
	ts := newTestServer(t, Config{Logger: testLogger()})

	for _, path := range []string{"/", "/player/abc123"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("request %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if !strings.Contains(string(body), "<!DOCTYPE html>") {
			t.Fatalf("%s: expected an HTML page", path)
		}
	}

	resp, err := http.Get(ts.URL + "/no-such-page")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", resp.StatusCode)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{
		Logger:    testLogger(),
		RateLimit: RateLimitConfig{GlobalRPS: 1, GlobalBurst: 2},
	})

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	limited := 0
	for _, status := range statuses {
		if status == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatalf("expected at least one rate-limited request, got %v", statuses)
	}
}

func TestUploadThrottlePerIP(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 2, UploadWindow: time.Minute})

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.AllowUpload("10.0.0.1")
		if err != nil || !allowed {
			t.Fatalf("request %d: expected allowed, got %v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, err := rl.AllowUpload("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowUpload: %v", err)
	}
	if allowed {
		t.Fatal("expected third upload to be throttled")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a retry-after hint")
	}

	// A different client keeps its own budget.
	if allowed, _, _ := rl.AllowUpload("10.0.0.2"); !allowed {
		t.Fatal("expected other client to be allowed")
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	recorder := metrics.New()
	ts := newTestServer(t, Config{Logger: testLogger(), Metrics: recorder})

	if _, err := http.Get(ts.URL + "/healthz"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "vodforge_http_requests_total") {
		t.Fatalf("expected request counter in metrics output, got:\n%s", body)
	}
}
