// Package analytics tracks concurrent viewers per video. Players send
// periodic heartbeats; a viewer disappears from the counts once its
// heartbeats stop for longer than the presence window.
package analytics

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is how long a viewer stays counted after its last
// heartbeat.
const DefaultWindow = 30 * time.Second

// Tracker records viewer presence and answers realtime count queries.
type Tracker interface {
	// Heartbeat marks the session as watching the video right now.
	Heartbeat(ctx context.Context, videoID, sessionID string) error
	// ViewerCount returns the number of live sessions for one video.
	ViewerCount(ctx context.Context, videoID string) (int64, error)
	// Summary returns live session counts for every video with at least
	// one viewer.
	Summary(ctx context.Context) (map[string]int64, error)
	Close() error
}

// memoryTracker is the single-node fallback when Redis is not configured.
type memoryTracker struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]map[string]time.Time
}

// NewMemoryTracker returns an in-process tracker. window <= 0 uses
// DefaultWindow.
func NewMemoryTracker(window time.Duration) Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &memoryTracker{
		window:   window,
		now:      time.Now,
		sessions: make(map[string]map[string]time.Time),
	}
}

func (t *memoryTracker) Heartbeat(ctx context.Context, videoID, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	viewers, ok := t.sessions[videoID]
	if !ok {
		viewers = make(map[string]time.Time)
		t.sessions[videoID] = viewers
	}
	viewers[sessionID] = t.now()
	return nil
}

// expireLocked drops sessions whose heartbeat fell outside the window.
func (t *memoryTracker) expireLocked() {
	cutoff := t.now().Add(-t.window)
	for videoID, viewers := range t.sessions {
		for sessionID, seen := range viewers {
			if seen.Before(cutoff) {
				delete(viewers, sessionID)
			}
		}
		if len(viewers) == 0 {
			delete(t.sessions, videoID)
		}
	}
}

func (t *memoryTracker) ViewerCount(ctx context.Context, videoID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	return int64(len(t.sessions[videoID])), nil
}

func (t *memoryTracker) Summary(ctx context.Context) (map[string]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	summary := make(map[string]int64, len(t.sessions))
	for videoID, viewers := range t.sessions {
		summary[videoID] = int64(len(viewers))
	}
	return summary, nil
}

func (t *memoryTracker) Close() error { return nil }
