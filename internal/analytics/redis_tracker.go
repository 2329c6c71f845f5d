package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	viewerKeyPrefix = "vodforge:viewers:"
	viewerIndexKey  = "vodforge:viewers"
)

// redisTracker keeps presence in Redis so counts survive restarts and are
// shared across replicas. Each video has a sorted set of session ids scored
// by last heartbeat, plus a global index of active videos.
type redisTracker struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewRedisTracker connects to Redis and verifies the connection. window <= 0
// uses DefaultWindow.
func NewRedisTracker(ctx context.Context, addr, password string, db int, window time.Duration) (Tracker, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &redisTracker{client: client, window: window, now: time.Now}, nil
}

func viewerKey(videoID string) string {
	return viewerKeyPrefix + videoID
}

func (t *redisTracker) Heartbeat(ctx context.Context, videoID, sessionID string) error {
	now := t.now()
	score := float64(now.UnixMilli())
	pipe := t.client.Pipeline()
	pipe.ZAdd(ctx, viewerKey(videoID), redis.Z{Score: score, Member: sessionID})
	pipe.PExpire(ctx, viewerKey(videoID), 2*t.window)
	pipe.ZAdd(ctx, viewerIndexKey, redis.Z{Score: score, Member: videoID})
	pipe.PExpire(ctx, viewerIndexKey, 2*t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

func (t *redisTracker) cutoff() string {
	return strconv.FormatInt(t.now().Add(-t.window).UnixMilli(), 10)
}

func (t *redisTracker) ViewerCount(ctx context.Context, videoID string) (int64, error) {
	key := viewerKey(videoID)
	pipe := t.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", t.cutoff())
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count viewers: %w", err)
	}
	return card.Val(), nil
}

func (t *redisTracker) Summary(ctx context.Context) (map[string]int64, error) {
	if err := t.client.ZRemRangeByScore(ctx, viewerIndexKey, "-inf", t.cutoff()).Err(); err != nil {
		return nil, fmt.Errorf("prune viewer index: %w", err)
	}
	videoIDs, err := t.client.ZRange(ctx, viewerIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active videos: %w", err)
	}
	summary := make(map[string]int64, len(videoIDs))
	for _, videoID := range videoIDs {
		count, err := t.ViewerCount(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			summary[videoID] = count
		}
	}
	return summary, nil
}

func (t *redisTracker) Close() error {
	return t.client.Close()
}
