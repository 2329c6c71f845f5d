package analytics

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTrackerCountsLiveSessions(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "vid1", "sess-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.Heartbeat(ctx, "vid1", "sess-b"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.Heartbeat(ctx, "vid2", "sess-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	count, err := tracker.ViewerCount(ctx, "vid1")
	if err != nil || count != 2 {
		t.Fatalf("expected two viewers, got %d (%v)", count, err)
	}

	summary, err := tracker.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary["vid1"] != 2 || summary["vid2"] != 1 {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestMemoryTrackerRepeatHeartbeatIsIdempotent(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := tracker.Heartbeat(ctx, "vid1", "sess-a"); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}
	count, err := tracker.ViewerCount(ctx, "vid1")
	if err != nil || count != 1 {
		t.Fatalf("expected a single viewer, got %d (%v)", count, err)
	}
}

func TestMemoryTrackerExpiresStaleSessions(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute).(*memoryTracker)
	ctx := context.Background()
	current := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	if err := tracker.Heartbeat(ctx, "vid1", "sess-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	current = current.Add(30 * time.Second)
	if err := tracker.Heartbeat(ctx, "vid1", "sess-b"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	current = current.Add(45 * time.Second)
	count, err := tracker.ViewerCount(ctx, "vid1")
	if err != nil || count != 1 {
		t.Fatalf("expected only the fresh session, got %d (%v)", count, err)
	}

	current = current.Add(2 * time.Minute)
	summary, err := tracker.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 0 {
		t.Fatalf("expected all sessions expired, got %v", summary)
	}
}
