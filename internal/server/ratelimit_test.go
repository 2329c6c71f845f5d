package server

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	bucket := newTokenBucket(100, 2)

	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("expected burst capacity to be available")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be empty after burst")
	}

	time.Sleep(30 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("expected bucket to refill over time")
	}
}

func TestAllowRequestUnlimitedByDefault(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if !rl.AllowRequest() {
			t.Fatalf("request %d: expected unlimited traffic without a global rate", i)
		}
	}
}

func TestAllowUploadDisabledWithoutLimit(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	allowed, _, err := rl.AllowUpload("10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("expected uploads to pass with no limit configured, got %v err=%v", allowed, err)
	}
}

func TestAllowUploadEmptyKeyStillCounted(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute})

	if allowed, _, _ := rl.AllowUpload(""); !allowed {
		t.Fatal("expected first anonymous upload to pass")
	}
	if allowed, _, _ := rl.AllowUpload(""); allowed {
		t.Fatal("expected anonymous uploads to share one bucket")
	}
}

func TestUploadBucketCleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 5, UploadWindow: 10 * time.Millisecond})

	if allowed, _, _ := rl.AllowUpload("10.0.0.1"); !allowed {
		t.Fatal("expected upload to pass")
	}
	rl.uploadMu.Lock()
	rl.uploadBuckets["10.0.0.1"].lastSeen = time.Now().Add(-time.Minute)
	rl.uploadMu.Unlock()

	if allowed, _, _ := rl.AllowUpload("10.0.0.2"); !allowed {
		t.Fatal("expected upload to pass")
	}
	rl.uploadMu.Lock()
	_, stale := rl.uploadBuckets["10.0.0.1"]
	rl.uploadMu.Unlock()
	if stale {
		t.Fatal("expected stale bucket to be evicted")
	}
}
