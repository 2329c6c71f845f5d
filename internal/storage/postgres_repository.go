package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vodforge/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) SaveProcessingResult(ctx context.Context, result ProcessingResult) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	video := result.Video
	if _, err := tx.Exec(ctx, `
		INSERT INTO videos (id, name, tags, available_resolutions, duration_seconds,
			thumbnail_key, sprites_key, entrypoint_key, view_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		video.ID, video.Name, video.Tags, video.AvailableResolutions, video.DurationSeconds,
		video.ThumbnailKey, video.SpritesKey, video.EntrypointKey, video.ViewCount,
		video.CreatedAt, video.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert video %s: %w", video.ID, err)
	}
	for _, track := range result.AudioTracks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO audio_tracks (id, video_id, track_index, language, title, codec,
				channels, sample_rate, bit_rate, is_default)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			track.ID, video.ID, track.TrackIndex, track.Language, track.Title, track.Codec,
			track.Channels, track.SampleRate, track.BitRate, track.Default,
		); err != nil {
			return fmt.Errorf("insert audio track %d: %w", track.TrackIndex, err)
		}
	}
	for _, track := range result.SubtitleTracks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO subtitle_tracks (id, video_id, track_index, language, title, codec,
				storage_key, idx_storage_key, is_default, is_forced)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			track.ID, video.ID, track.TrackIndex, track.Language, track.Title, track.Codec,
			track.StorageKey, track.IdxStorageKey, track.Default, track.Forced,
		); err != nil {
			return fmt.Errorf("insert subtitle track %d: %w", track.TrackIndex, err)
		}
	}
	for _, attachment := range result.Attachments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attachments (id, video_id, filename, mimetype, storage_key)
			VALUES ($1, $2, $3, $4, $5)`,
			attachment.ID, video.ID, attachment.Filename, attachment.Mimetype, attachment.StorageKey,
		); err != nil {
			return fmt.Errorf("insert attachment %s: %w", attachment.Filename, err)
		}
	}
	for _, chapter := range result.Chapters {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chapters (id, video_id, chapter_index, start_time, end_time, title)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			chapter.ID, video.ID, chapter.ChapterIndex, chapter.StartTime, chapter.EndTime, chapter.Title,
		); err != nil {
			return fmt.Errorf("insert chapter %d: %w", chapter.ChapterIndex, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit processing result: %w", err)
	}
	return nil
}

const videoColumns = `id, name, tags, available_resolutions, duration_seconds,
	thumbnail_key, sprites_key, entrypoint_key, view_count, created_at, updated_at`

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.Name, &video.Tags, &video.AvailableResolutions,
		&video.DurationSeconds, &video.ThumbnailKey, &video.SpritesKey,
		&video.EntrypointKey, &video.ViewCount, &video.CreatedAt, &video.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrVideoNotFound
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("scan video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) Video(ctx context.Context, id string) (models.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

func (r *postgresRepository) ListVideos(ctx context.Context, limit, offset int) ([]models.Video, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, limit)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, 0, err
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	return videos, total, nil
}

func (r *postgresRepository) UpdateVideo(ctx context.Context, id, name string, tags []string) (models.Video, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE videos SET
			name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
			tags = COALESCE($3, tags),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+videoColumns, id, strings.TrimSpace(name), tags)
	return scanVideo(row)
}

func (r *postgresRepository) DeleteVideo(ctx context.Context, id string) (models.Video, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM videos WHERE id = $1 RETURNING `+videoColumns, id)
	return scanVideo(row)
}

func (r *postgresRepository) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		UPDATE videos SET view_count = view_count + 1 WHERE id = $1
		RETURNING view_count`, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrVideoNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment view count: %w", err)
	}
	return count, nil
}

// videoExists distinguishes an empty track list from an unknown video.
func (r *postgresRepository) videoExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check video %s: %w", id, err)
	}
	if !exists {
		return ErrVideoNotFound
	}
	return nil
}

func (r *postgresRepository) AudioTracks(ctx context.Context, videoID string) ([]models.AudioTrack, error) {
	if err := r.videoExists(ctx, videoID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, video_id, track_index, language, title, codec, channels,
			sample_rate, bit_rate, is_default
		FROM audio_tracks WHERE video_id = $1 ORDER BY track_index`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list audio tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.AudioTrack
	for rows.Next() {
		var track models.AudioTrack
		if err := rows.Scan(&track.ID, &track.VideoID, &track.TrackIndex, &track.Language,
			&track.Title, &track.Codec, &track.Channels, &track.SampleRate,
			&track.BitRate, &track.Default); err != nil {
			return nil, fmt.Errorf("scan audio track: %w", err)
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

func (r *postgresRepository) SubtitleTracks(ctx context.Context, videoID string) ([]models.SubtitleTrack, error) {
	if err := r.videoExists(ctx, videoID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, video_id, track_index, language, title, codec, storage_key,
			idx_storage_key, is_default, is_forced
		FROM subtitle_tracks WHERE video_id = $1 ORDER BY track_index`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list subtitle tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.SubtitleTrack
	for rows.Next() {
		var track models.SubtitleTrack
		if err := rows.Scan(&track.ID, &track.VideoID, &track.TrackIndex, &track.Language,
			&track.Title, &track.Codec, &track.StorageKey, &track.IdxStorageKey,
			&track.Default, &track.Forced); err != nil {
			return nil, fmt.Errorf("scan subtitle track: %w", err)
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

func (r *postgresRepository) Attachments(ctx context.Context, videoID string) ([]models.Attachment, error) {
	if err := r.videoExists(ctx, videoID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, video_id, filename, mimetype, storage_key
		FROM attachments WHERE video_id = $1 ORDER BY filename`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var attachment models.Attachment
		if err := rows.Scan(&attachment.ID, &attachment.VideoID, &attachment.Filename,
			&attachment.Mimetype, &attachment.StorageKey); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, attachment)
	}
	return attachments, rows.Err()
}

func (r *postgresRepository) Chapters(ctx context.Context, videoID string) ([]models.Chapter, error) {
	if err := r.videoExists(ctx, videoID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, video_id, chapter_index, start_time, end_time, title
		FROM chapters WHERE video_id = $1 ORDER BY chapter_index`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []models.Chapter
	for rows.Next() {
		var chapter models.Chapter
		if err := rows.Scan(&chapter.ID, &chapter.VideoID, &chapter.ChapterIndex,
			&chapter.StartTime, &chapter.EndTime, &chapter.Title); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, chapter)
	}
	return chapters, rows.Err()
}
