package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAggregatesByLabel(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/videos", 200, 10*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/videos", 200, 20*time.Millisecond)
	recorder.ObserveRequest("GET", "/api/videos", 500, 5*time.Millisecond)

	var output strings.Builder
	recorder.Write(&output)
	body := output.String()

	if !strings.Contains(body, `vodforge_http_requests_total{method="GET",path="/api/videos",status="200"} 2`) {
		t.Fatalf("expected aggregated 200 count, got:\n%s", body)
	}
	if !strings.Contains(body, `vodforge_http_requests_total{method="GET",path="/api/videos",status="500"} 1`) {
		t.Fatalf("expected 500 count, got:\n%s", body)
	}
}

func TestNormalizePathCollapsesIdentifiers(t *testing.T) {
	cases := map[string]string{
		"/":           "/",
		"/api/videos": "/api/videos",
		"/api/videos/9f2c1d4a8b3e5f607182930aabbccdde":          "/api/videos/:id",
		"/api/upload-progress/9f2c1d4a8b3e5f607182930aabbccdde": "/api/upload-progress/:id",
		"/player/abc123": "/player/:id",
		"/api/videos/":   "/api/videos",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestJobLifecycleGauge(t *testing.T) {
	recorder := New()
	recorder.JobStarted()
	recorder.JobStarted()
	if recorder.ActiveJobs() != 2 {
		t.Fatalf("expected two active jobs, got %d", recorder.ActiveJobs())
	}
	recorder.JobCompleted()
	recorder.JobFailed()
	if recorder.ActiveJobs() != 0 {
		t.Fatalf("expected zero active jobs, got %d", recorder.ActiveJobs())
	}
	recorder.JobFailed()
	if recorder.ActiveJobs() != 0 {
		t.Fatalf("gauge must not go negative, got %d", recorder.ActiveJobs())
	}

	events, active := recorder.JobCounts()
	if active != 0 {
		t.Fatalf("unexpected active count %d", active)
	}
	if events[JobLabel{Stage: "pipeline", Status: "start"}] != 2 {
		t.Fatalf("unexpected start count: %v", events)
	}
	if events[JobLabel{Stage: "pipeline", Status: "fail"}] != 2 {
		t.Fatalf("unexpected fail count: %v", events)
	}
}

func TestEncodeFallbackCounter(t *testing.T) {
	recorder := New()
	recorder.ObserveEncodeFallback("NVENC")
	recorder.ObserveEncodeFallback("nvenc")
	recorder.ObserveEncodeFallback("vaapi")

	counts := recorder.EncodeFallbackCounts()
	if counts["nvenc"] != 2 || counts["vaapi"] != 1 {
		t.Fatalf("unexpected fallback counts: %v", counts)
	}

	var output strings.Builder
	recorder.Write(&output)
	if !strings.Contains(output.String(), `vodforge_encode_fallbacks_total{family="nvenc"} 2`) {
		t.Fatalf("expected fallback metric, got:\n%s", output.String())
	}
}

func TestUploadAndHeartbeatCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveUpload(1024)
	recorder.ObserveUpload(2048)
	recorder.ObserveViewerHeartbeat()

	var output strings.Builder
	recorder.Write(&output)
	body := output.String()
	if !strings.Contains(body, "vodforge_uploaded_objects_total 2") {
		t.Fatalf("expected object count, got:\n%s", body)
	}
	if !strings.Contains(body, "vodforge_uploaded_bytes_total 3072") {
		t.Fatalf("expected byte count, got:\n%s", body)
	}
	if !strings.Contains(body, "vodforge_viewer_heartbeats_total 1") {
		t.Fatalf("expected heartbeat count, got:\n%s", body)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.JobStarted()
	recorder.JobCompleted()

	request := httptest.NewRequest("GET", "/metrics", nil)
	response := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(response, request)

	if response.Code != 200 {
		t.Fatalf("unexpected status %d", response.Code)
	}
	if got := response.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(response.Body.String(), "vodforge_pipeline_active_jobs 0") {
		t.Fatalf("expected gauge in output:\n%s", response.Body.String())
	}
}

func TestResetClearsState(t *testing.T) {
	recorder := New()
	recorder.JobStarted()
	recorder.ObserveUpload(10)
	recorder.Reset()

	events, active := recorder.JobCounts()
	if len(events) != 0 || active != 0 {
		t.Fatalf("expected empty recorder after reset, got %v active=%d", events, active)
	}
}
