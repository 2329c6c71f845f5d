package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vodforge/internal/progress"
)

// readFirstEvent connects to the progress stream and returns the first
// server-sent event payload.
func readFirstEvent(t *testing.T, h *Handler, jobID string) progressEvent {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.UploadByID))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/uploads/"+jobID+"/progress", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event progressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event
	}
	t.Fatalf("no event received: %v", scanner.Err())
	return progressEvent{}
}

func TestProgressStreamReportsCurrentState(t *testing.T) {
	h := newTestHandler(t)
	h.Progress.Upsert("u1", progress.Record{
		Stage:       progress.StageEncoding,
		CurrentUnit: 2,
		TotalUnits:  5,
		Percentage:  40,
		Status:      progress.StatusProcessing,
		Label:       "movie.mkv",
	})

	event := readFirstEvent(t, h, "u1")
	if event.Stage != progress.StageEncoding {
		t.Fatalf("unexpected stage %q", event.Stage)
	}
	if event.Percentage != 40 || event.CurrentUnit != 2 || event.TotalUnits != 5 {
		t.Fatalf("unexpected progress numbers: %+v", event)
	}
}

func TestProgressStreamClosesAfterTerminalState(t *testing.T) {
	h := newTestHandler(t)
	h.Progress.Upsert("u1", progress.Record{
		Stage:      progress.StageCompleted,
		Percentage: 100,
		Status:     progress.StatusCompleted,
		Result:     &progress.Result{PlayerURL: "/player/abc", JobID: "u1"},
	})

	server := httptest.NewServer(http.HandlerFunc(h.UploadByID))
	defer server.Close()

	start := time.Now()
	resp, err := http.Get(server.URL + "/api/uploads/u1/progress")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var last progressEvent
	scanner := bufio.NewScanner(resp.Body)
	events := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		events++
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last); err != nil {
			t.Fatalf("decode event: %v", err)
		}
	}
	elapsed := time.Since(start)

	if events == 0 {
		t.Fatal("expected at least one event")
	}
	if last.Status != progress.StatusCompleted {
		t.Fatalf("expected completed status, got %q", last.Status)
	}
	if last.Result == nil || last.Result.PlayerURL != "/player/abc" {
		t.Fatalf("expected result payload, got %+v", last.Result)
	}
	// The stream lingers briefly after a terminal event, then closes on its
	// own without the client hanging up.
	if elapsed > 10*time.Second {
		t.Fatalf("stream did not close after terminal state (took %s)", elapsed)
	}
}
