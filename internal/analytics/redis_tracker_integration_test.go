package analytics

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Requires a reachable Redis instance, for example:
//
//	VODFORGE_TEST_REDIS_ADDR=localhost:6379 go test ./internal/analytics
func redisTestTracker(t *testing.T, window time.Duration) Tracker {
	t.Helper()
	addr := os.Getenv("VODFORGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set VODFORGE_TEST_REDIS_ADDR to run redis integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tracker, err := NewRedisTracker(ctx, addr, os.Getenv("VODFORGE_TEST_REDIS_PASSWORD"), 0, window)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = tracker.Close() })
	return tracker
}

func TestRedisTrackerLifecycle(t *testing.T) {
	tracker := redisTestTracker(t, 2*time.Second)
	ctx := context.Background()
	videoID := fmt.Sprintf("it-%d", time.Now().UnixNano())

	if err := tracker.Heartbeat(ctx, videoID, "sess-a"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.Heartbeat(ctx, videoID, "sess-b"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	count, err := tracker.ViewerCount(ctx, videoID)
	if err != nil || count != 2 {
		t.Fatalf("expected two viewers, got %d (%v)", count, err)
	}

	summary, err := tracker.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary[videoID] != 2 {
		t.Fatalf("expected video in summary, got %v", summary)
	}

	time.Sleep(2500 * time.Millisecond)
	count, err = tracker.ViewerCount(ctx, videoID)
	if err != nil || count != 0 {
		t.Fatalf("expected sessions expired, got %d (%v)", count, err)
	}
}
