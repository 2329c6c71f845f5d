package storage

import (
	"context"
	"fmt"
)

// migrationStatements create the schema idempotently on startup. The tables
// are append-mostly and small relative to the media they describe, so a
// full migration framework is not carried.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		available_resolutions TEXT[] NOT NULL DEFAULT '{}',
		duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		thumbnail_key TEXT NOT NULL DEFAULT '',
		sprites_key TEXT NOT NULL DEFAULT '',
		entrypoint_key TEXT NOT NULL DEFAULT '',
		view_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS videos_created_at_idx ON videos (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audio_tracks (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		track_index INTEGER NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		codec TEXT NOT NULL DEFAULT '',
		channels INTEGER NOT NULL DEFAULT 0,
		sample_rate INTEGER NOT NULL DEFAULT 0,
		bit_rate BIGINT NOT NULL DEFAULT 0,
		is_default BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS audio_tracks_video_idx ON audio_tracks (video_id, track_index)`,
	`CREATE TABLE IF NOT EXISTS subtitle_tracks (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		track_index INTEGER NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		codec TEXT NOT NULL DEFAULT '',
		storage_key TEXT NOT NULL DEFAULT '',
		idx_storage_key TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		is_forced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS subtitle_tracks_video_idx ON subtitle_tracks (video_id, track_index)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		mimetype TEXT NOT NULL DEFAULT '',
		storage_key TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS attachments_video_idx ON attachments (video_id)`,
	`CREATE TABLE IF NOT EXISTS chapters (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
		chapter_index INTEGER NOT NULL,
		start_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		end_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS chapters_video_idx ON chapters (video_id, chapter_index)`,
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	for _, statement := range migrationStatements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
