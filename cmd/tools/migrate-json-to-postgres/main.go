// Command migrate-json-to-postgres copies a JSON catalog into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"vodforge/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/library.json", "path to the JSON catalog to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("VODFORGE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, VODFORGE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()

	source, err := storage.NewMemoryRepository(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON catalog", "error", err)
		os.Exit(1)
	}
	defer source.Close(ctx)

	target, err := storage.NewPostgresRepository(ctx, dsn)
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer target.Close(ctx)

	counts, err := migrate(ctx, source, target)
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("copied catalog",
		"videos", counts.videos,
		"audio_tracks", counts.audioTracks,
		"subtitle_tracks", counts.subtitleTracks,
		"attachments", counts.attachments,
		"chapters", counts.chapters)

	if err := verifyCounts(ctx, dsn, counts); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migration completed")
}

type migrationCounts struct {
	videos         int
	audioTracks    int
	subtitleTracks int
	attachments    int
	chapters       int
}

const migrationPageSize = 100

func migrate(ctx context.Context, source, target storage.Repository) (migrationCounts, error) {
	var counts migrationCounts
	for offset := 0; ; offset += migrationPageSize {
		videos, total, err := source.ListVideos(ctx, migrationPageSize, offset)
		if err != nil {
			return counts, fmt.Errorf("list videos: %w", err)
		}
		for _, video := range videos {
			result := storage.ProcessingResult{Video: video}
			if result.AudioTracks, err = source.AudioTracks(ctx, video.ID); err != nil {
				return counts, fmt.Errorf("audio tracks for %s: %w", video.ID, err)
			}
			if result.SubtitleTracks, err = source.SubtitleTracks(ctx, video.ID); err != nil {
				return counts, fmt.Errorf("subtitle tracks for %s: %w", video.ID, err)
			}
			if result.Attachments, err = source.Attachments(ctx, video.ID); err != nil {
				return counts, fmt.Errorf("attachments for %s: %w", video.ID, err)
			}
			if result.Chapters, err = source.Chapters(ctx, video.ID); err != nil {
				return counts, fmt.Errorf("chapters for %s: %w", video.ID, err)
			}
			if err := target.SaveProcessingResult(ctx, result); err != nil {
				return counts, fmt.Errorf("save %s: %w", video.ID, err)
			}
			counts.videos++
			counts.audioTracks += len(result.AudioTracks)
			counts.subtitleTracks += len(result.SubtitleTracks)
			counts.attachments += len(result.Attachments)
			counts.chapters += len(result.Chapters)
		}
		if offset+len(videos) >= total || len(videos) == 0 {
			return counts, nil
		}
	}
}

func verifyCounts(ctx context.Context, dsn string, counts migrationCounts) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	checks := []struct {
		name     string
		query    string
		expected int
	}{
		{"videos", "SELECT COUNT(*) FROM videos", counts.videos},
		{"audio_tracks", "SELECT COUNT(*) FROM audio_tracks", counts.audioTracks},
		{"subtitle_tracks", "SELECT COUNT(*) FROM subtitle_tracks", counts.subtitleTracks},
		{"attachments", "SELECT COUNT(*) FROM attachments", counts.attachments},
		{"chapters", "SELECT COUNT(*) FROM chapters", counts.chapters},
	}

	for _, check := range checks {
		var actual int
		if err := pool.QueryRow(ctx, check.query).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.name, err)
		}
		if actual != check.expected {
			return fmt.Errorf("mismatch for %s: expected %d, got %d", check.name, check.expected, actual)
		}
	}
	return nil
}
