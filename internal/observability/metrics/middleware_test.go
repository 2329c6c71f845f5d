package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsStatusAndPath(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	request := httptest.NewRequest("POST", "/api/upload", nil)
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)

	if response.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", response.Code)
	}
	var output strings.Builder
	recorder.Write(&output)
	if !strings.Contains(output.String(), `vodforge_http_requests_total{method="POST",path="/api/upload",status="202"} 1`) {
		t.Fatalf("expected request metric, got:\n%s", output.String())
	}
}

func TestResponseRecorderDefaultsToOK(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	request := httptest.NewRequest("GET", "/healthz", nil)
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)

	var output strings.Builder
	recorder.Write(&output)
	if !strings.Contains(output.String(), `status="200"`) {
		t.Fatalf("expected default 200 status, got:\n%s", output.String())
	}
}
