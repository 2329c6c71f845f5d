// Package storage persists video metadata. Two implementations exist: an
// in-memory repository with optional JSON snapshot persistence for small
// deployments and tests, and a Postgres repository for production.
package storage

import (
	"context"
	"errors"

	"vodforge/internal/models"
)

// ErrVideoNotFound is returned when a video id does not exist.
var ErrVideoNotFound = errors.New("video not found")

// ProcessingResult bundles everything a finished pipeline run persists in
// one shot.
type ProcessingResult struct {
	Video          models.Video
	AudioTracks    []models.AudioTrack
	SubtitleTracks []models.SubtitleTrack
	Attachments    []models.Attachment
	Chapters       []models.Chapter
}

// Repository is the metadata store behind the catalog and playback
// endpoints.
type Repository interface {
	// SaveProcessingResult inserts a video with all of its tracks
	// atomically. A partial insert must not be observable.
	SaveProcessingResult(ctx context.Context, result ProcessingResult) error

	Video(ctx context.Context, id string) (models.Video, error)
	// ListVideos returns a page of videos ordered newest-first along with
	// the total count.
	ListVideos(ctx context.Context, limit, offset int) ([]models.Video, int, error)
	UpdateVideo(ctx context.Context, id, name string, tags []string) (models.Video, error)
	// DeleteVideo removes the video and all dependent rows, returning the
	// deleted record so callers can clean up remote objects.
	DeleteVideo(ctx context.Context, id string) (models.Video, error)
	IncrementViewCount(ctx context.Context, id string) (int64, error)

	AudioTracks(ctx context.Context, videoID string) ([]models.AudioTrack, error)
	SubtitleTracks(ctx context.Context, videoID string) ([]models.SubtitleTrack, error)
	Attachments(ctx context.Context, videoID string) ([]models.Attachment, error)
	Chapters(ctx context.Context, videoID string) ([]models.Chapter, error)

	Close(ctx context.Context) error
}
