package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vodforge/internal/models"
)

// snapshot is the JSON document persisted by the memory repository.
type snapshot struct {
	Videos         map[string]models.Video          `json:"videos"`
	AudioTracks    map[string][]models.AudioTrack   `json:"audioTracks"`
	SubtitleTracks map[string][]models.SubtitleTrack `json:"subtitleTracks"`
	Attachments    map[string][]models.Attachment   `json:"attachments"`
	Chapters       map[string][]models.Chapter      `json:"chapters"`
}

func newSnapshot() snapshot {
	return snapshot{
		Videos:         make(map[string]models.Video),
		AudioTracks:    make(map[string][]models.AudioTrack),
		SubtitleTracks: make(map[string][]models.SubtitleTrack),
		Attachments:    make(map[string][]models.Attachment),
		Chapters:       make(map[string][]models.Chapter),
	}
}

// MemoryRepository keeps the catalog in process memory. When a path is
// configured every mutation is flushed to a JSON snapshot, which is loaded
// back on startup, so restarts keep the catalog on single-node deployments.
type MemoryRepository struct {
	mu   sync.RWMutex
	data snapshot
	path string
}

// NewMemoryRepository creates a repository. path may be empty for a purely
// volatile store.
func NewMemoryRepository(path string) (*MemoryRepository, error) {
	repo := &MemoryRepository{data: newSnapshot(), path: strings.TrimSpace(path)}
	if repo.path != "" {
		if err := repo.load(); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (r *MemoryRepository) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot %s: %w", r.path, err)
	}
	var data snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", r.path, err)
	}
	if data.Videos == nil {
		data = newSnapshot()
	}
	if data.AudioTracks == nil {
		data.AudioTracks = make(map[string][]models.AudioTrack)
	}
	if data.SubtitleTracks == nil {
		data.SubtitleTracks = make(map[string][]models.SubtitleTrack)
	}
	if data.Attachments == nil {
		data.Attachments = make(map[string][]models.Attachment)
	}
	if data.Chapters == nil {
		data.Chapters = make(map[string][]models.Chapter)
	}
	r.data = data
	return nil
}

// persist writes the snapshot through a temp file so a crash mid-write
// cannot truncate the previous snapshot. Caller holds the write lock.
func (r *MemoryRepository) persist() error {
	if r.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (r *MemoryRepository) SaveProcessingResult(ctx context.Context, result ProcessingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	video := result.Video
	if video.ID == "" {
		return fmt.Errorf("video id required")
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	if video.UpdatedAt.IsZero() {
		video.UpdatedAt = video.CreatedAt
	}
	r.data.Videos[video.ID] = video
	r.data.AudioTracks[video.ID] = append([]models.AudioTrack(nil), result.AudioTracks...)
	r.data.SubtitleTracks[video.ID] = append([]models.SubtitleTrack(nil), result.SubtitleTracks...)
	r.data.Attachments[video.ID] = append([]models.Attachment(nil), result.Attachments...)
	r.data.Chapters[video.ID] = append([]models.Chapter(nil), result.Chapters...)
	return r.persist()
}

func (r *MemoryRepository) Video(ctx context.Context, id string) (models.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	video, ok := r.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	return video, nil
}

func (r *MemoryRepository) ListVideos(ctx context.Context, limit, offset int) ([]models.Video, int, error) {
	r.mu.RLock()
	videos := make([]models.Video, 0, len(r.data.Videos))
	for _, video := range r.data.Videos {
		videos = append(videos, video)
	}
	r.mu.RUnlock()

	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID > videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
	total := len(videos)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []models.Video{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return videos[offset:end], total, nil
}

func (r *MemoryRepository) UpdateVideo(ctx context.Context, id, name string, tags []string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if strings.TrimSpace(name) != "" {
		video.Name = strings.TrimSpace(name)
	}
	if tags != nil {
		video.Tags = append([]string(nil), tags...)
	}
	video.UpdatedAt = time.Now().UTC()
	r.data.Videos[id] = video
	if err := r.persist(); err != nil {
		return models.Video{}, err
	}
	return video, nil
}

func (r *MemoryRepository) DeleteVideo(ctx context.Context, id string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	delete(r.data.Videos, id)
	delete(r.data.AudioTracks, id)
	delete(r.data.SubtitleTracks, id)
	delete(r.data.Attachments, id)
	delete(r.data.Chapters, id)
	if err := r.persist(); err != nil {
		return models.Video{}, err
	}
	return video, nil
}

func (r *MemoryRepository) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.data.Videos[id]
	if !ok {
		return 0, ErrVideoNotFound
	}
	video.ViewCount++
	r.data.Videos[id] = video
	if err := r.persist(); err != nil {
		return 0, err
	}
	return video.ViewCount, nil
}

func (r *MemoryRepository) AudioTracks(ctx context.Context, videoID string) ([]models.AudioTrack, error) {
	return cloneTracks(r, videoID, r.data.AudioTracks)
}

func (r *MemoryRepository) SubtitleTracks(ctx context.Context, videoID string) ([]models.SubtitleTrack, error) {
	return cloneTracks(r, videoID, r.data.SubtitleTracks)
}

func (r *MemoryRepository) Attachments(ctx context.Context, videoID string) ([]models.Attachment, error) {
	return cloneTracks(r, videoID, r.data.Attachments)
}

func (r *MemoryRepository) Chapters(ctx context.Context, videoID string) ([]models.Chapter, error) {
	return cloneTracks(r, videoID, r.data.Chapters)
}

// cloneTracks checks video existence under the read lock before cloning the
// requested slice. The track maps themselves are never replaced after
// construction, only their entries change.
func cloneTracks[T any](r *MemoryRepository, videoID string, tracks map[string][]T) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.data.Videos[videoID]; !ok {
		return nil, ErrVideoNotFound
	}
	return append([]T(nil), tracks[videoID]...), nil
}

func (r *MemoryRepository) Close(ctx context.Context) error { return nil }
