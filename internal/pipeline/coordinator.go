// Package pipeline drives an upload from assembled file to published video:
// probe, encode, extract, publish, persist. One coordinator serves the whole
// process; jobs queue through a channel consumed by a fixed worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vodforge/internal/media"
	"vodforge/internal/models"
	"vodforge/internal/objectstore"
	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/progress"
	"vodforge/internal/storage"
	"vodforge/internal/transcode"
)

// terminalRetention is how long a finished job's progress record stays
// visible to pollers before eviction.
const terminalRetention = 10 * time.Second

// Job is one unit of work: an assembled source file ready for processing.
type Job struct {
	ID    string
	Input string
	// CleanupDir is removed once the job finishes, regardless of outcome.
	// Typically the chunk directory holding the assembled input.
	CleanupDir string
	Label      string
	Tags       []string
}

// Coordinator owns the processing queue and runs each job through every
// stage.
type Coordinator struct {
	Repo     storage.Repository
	Uploader *objectstore.Uploader
	Orch     *transcode.Orchestrator
	Progress *progress.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	WorkDir  string

	queue chan Job
}

// NewCoordinator sets up the queue. queueDepth bounds how many jobs may wait
// behind the running ones before Enqueue rejects.
func NewCoordinator(repo storage.Repository, uploader *objectstore.Uploader, orch *transcode.Orchestrator, registry *progress.Registry, recorder *metrics.Recorder, logger *slog.Logger, workDir string, queueDepth int) *Coordinator {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &Coordinator{
		Repo:     repo,
		Uploader: uploader,
		Orch:     orch,
		Progress: registry,
		Logger:   logger,
		Metrics:  recorder,
		WorkDir:  workDir,
		queue:    make(chan Job, queueDepth),
	}
}

// Enqueue marks the job queued and hands it to the worker pool.
func (c *Coordinator) Enqueue(job Job) error {
	record, _ := c.Progress.Get(job.ID)
	c.Progress.Upsert(job.ID, progress.Record{
		Stage:     progress.StageQueued,
		Detail:    "Waiting for a processing slot",
		Status:    progress.StatusProcessing,
		Label:     job.Label,
		CreatedAt: record.CreatedAt,
	})
	select {
	case c.queue <- job:
		return nil
	default:
		c.Progress.Upsert(job.ID, progress.Record{
			Stage:  progress.StageFailed,
			Detail: "Processing queue is full",
			Status: progress.StatusFailed,
			Error:  "processing queue is full",
			Label:  job.Label,
		})
		return fmt.Errorf("processing queue is full")
	}
}

// Run consumes the queue with the given number of workers until ctx is
// cancelled. Each worker processes one job at a time; rendition-level
// parallelism inside a job is bounded separately by the encode permit pool.
func (c *Coordinator) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-c.queue:
					c.process(ctx, job)
				}
			}
		}()
	}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Coordinator) recorder() *metrics.Recorder {
	if c.Metrics != nil {
		return c.Metrics
	}
	return metrics.Default()
}

// process runs every stage for one job. A cancelled record observed at a
// stage boundary stops the job between stages; running ffmpeg processes are
// never killed mid-encode.
func (c *Coordinator) process(ctx context.Context, job Job) {
	ctx = logging.ContextWithJobID(ctx, job.ID)
	log := logging.WithContext(ctx, c.logger())
	rec := c.recorder()
	rec.JobStarted()

	defer func() {
		if job.CleanupDir != "" {
			if err := os.RemoveAll(job.CleanupDir); err != nil {
				log.Warn("failed to remove upload directory", "dir", job.CleanupDir, "error", err)
			}
		}
	}()

	if c.cancelled(job.ID) {
		rec.JobFailed()
		return
	}

	outputID, err := storage.NewID()
	if err != nil {
		c.fail(job, rec, log, "generate output id", err)
		return
	}
	workDir := filepath.Join(c.WorkDir, "job-"+outputID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		c.fail(job, rec, log, "create work directory", err)
		return
	}
	defer os.RemoveAll(workDir)

	log.Info("processing started", "outputId", outputID, "input", job.Input)
	result, err := c.runStages(ctx, job, outputID, workDir, log)
	if err != nil {
		c.fail(job, rec, log, result, err)
		return
	}

	rec.JobCompleted()
	c.Progress.Upsert(job.ID, progress.Record{
		Stage:      progress.StageCompleted,
		Percentage: 100,
		Detail:     "Processing complete",
		Status:     progress.StatusCompleted,
		Result:     &progress.Result{PlayerURL: "/player/" + outputID, JobID: job.ID},
		Label:      job.Label,
	})
	log.Info("processing completed", "outputId", outputID)
	c.scheduleEviction(job.ID)
}

// runStages returns the failing stage name on error.
func (c *Coordinator) runStages(ctx context.Context, job Job, outputID, workDir string, log *slog.Logger) (string, error) {
	rec := c.recorder()

	c.update(job, progress.StageInspecting, 0, "Reading source streams")
	source, err := media.Inspect(ctx, job.Input)
	if err != nil {
		rec.ObserveStage("inspect", "fail")
		return "inspect source", err
	}
	audioStreams, err := media.AudioStreams(ctx, job.Input)
	if err != nil {
		rec.ObserveStage("inspect", "fail")
		return "inspect audio streams", err
	}
	subtitleStreams, _ := media.SubtitleStreams(ctx, job.Input)
	attachmentStreams, _ := media.Attachments(ctx, job.Input)
	chapterMarks, _ := media.Chapters(ctx, job.Input)
	rec.ObserveStage("inspect", "complete")

	if c.cancelled(job.ID) {
		return "cancelled", fmt.Errorf("job cancelled")
	}

	c.update(job, progress.StageEncoding, 0, "Starting renditions")
	encodeOrch := *c.Orch
	encodeOrch.OnFallback = func(family transcode.Family) {
		rec.ObserveEncodeFallback(string(family))
	}
	encodeOrch.OnUnitDone = func(done, total int, detail string) {
		percentage := 0
		if total > 0 {
			percentage = done * 100 / total
		}
		c.Progress.Upsert(job.ID, progress.Record{
			Stage:       progress.StageEncoding,
			CurrentUnit: done,
			TotalUnits:  total,
			Percentage:  percentage,
			Detail:      detail,
			Status:      progress.StatusProcessing,
			Label:       job.Label,
		})
	}

	// Poster frame and sprite sheet run alongside the renditions. They are
	// best effort and do not hold encode permits, so a saturated pool never
	// delays them.
	duration := float64(source.DurationSeconds)
	waitArtwork := startArtwork(log,
		func() (string, error) { return encodeOrch.Thumbnail(ctx, job.Input, duration, workDir) },
		func() (string, error) { return encodeOrch.Sprites(ctx, job.Input, duration, workDir) },
	)

	encoded, err := encodeOrch.Encode(ctx, job.Input, workDir, source, audioStreams)
	waitArtwork()
	if err != nil {
		rec.ObserveStage("encode", "fail")
		return "encode", err
	}
	rec.ObserveStage("encode", "complete")

	c.update(job, progress.StageExtracting, 0, "Extracting subtitles and attachments")
	extractedSubs, err := encodeOrch.ExtractSubtitles(ctx, job.Input, workDir, subtitleStreams)
	if err != nil {
		return "extract subtitles", err
	}
	extractedFonts, err := encodeOrch.ExtractAttachments(ctx, job.Input, workDir, attachmentStreams)
	if err != nil {
		return "extract attachments", err
	}

	audioList := make([]media.AudioStream, 0, len(encoded.Audio))
	for _, rendition := range encoded.Audio {
		audioList = append(audioList, rendition.Stream)
	}
	master := media.MasterPlaylist(encoded.Variants, audioList)
	if err := os.WriteFile(filepath.Join(workDir, "index.m3u8"), []byte(master), 0o644); err != nil {
		return "write master playlist", err
	}

	c.update(job, progress.StageUploading, 0, "Publishing to storage")
	uploader := *c.Uploader
	uploader.OnProgress = func(done, total int) {
		percentage := 0
		if total > 0 {
			percentage = done * 100 / total
		}
		c.Progress.Upsert(job.ID, progress.Record{
			Stage:       progress.StageUploading,
			CurrentUnit: done,
			TotalUnits:  total,
			Percentage:  percentage,
			Detail:      fmt.Sprintf("Uploaded %d of %d files", done, total),
			Status:      progress.StatusProcessing,
			Label:       job.Label,
		})
	}
	masterKey, err := uploader.UploadTree(ctx, workDir, outputID)
	if err != nil {
		rec.ObserveStage("upload", "fail")
		return "upload", err
	}
	rec.ObserveStage("upload", "complete")

	c.update(job, progress.StagePersisting, 100, "Saving metadata")
	saved, err := c.buildResult(outputID, job, source, masterKey, workDir, encoded, audioStreams, extractedSubs, extractedFonts, chapterMarks)
	if err != nil {
		return "build metadata", err
	}
	if err := c.Repo.SaveProcessingResult(ctx, saved); err != nil {
		rec.ObserveStage("persist", "fail")
		return "persist", err
	}
	rec.ObserveStage("persist", "complete")
	return "", nil
}

// startArtwork launches poster and sprite generation in the background and
// returns a function that blocks until both finish. Failures are logged,
// never returned; missing artwork does not fail a job.
func startArtwork(log *slog.Logger, thumbnail, sprites func() (string, error)) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := thumbnail(); err != nil {
			log.Warn("thumbnail generation failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := sprites(); err != nil {
			log.Warn("sprite generation failed", "error", err)
		}
	}()
	return wg.Wait
}

// buildResult assembles the repository rows from what the stages produced.
func (c *Coordinator) buildResult(outputID string, job Job, source media.SourceInfo, masterKey, workDir string, encoded transcode.Result, audioStreams []media.AudioStream, subs []transcode.ExtractedSubtitle, fonts []string, chapterMarks []media.ChapterMark) (storage.ProcessingResult, error) {
	now := time.Now().UTC()
	resolutions := make([]string, 0, len(encoded.Variants))
	for _, variant := range encoded.Variants {
		resolutions = append(resolutions, variant.Label)
	}
	video := models.Video{
		ID:                   outputID,
		Name:                 job.Label,
		Tags:                 job.Tags,
		AvailableResolutions: resolutions,
		DurationSeconds:      source.DurationSeconds,
		EntrypointKey:        masterKey,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if _, err := os.Stat(filepath.Join(workDir, "thumbnail.jpg")); err == nil {
		video.ThumbnailKey = outputID + "/thumbnail.jpg"
	}
	if _, err := os.Stat(filepath.Join(workDir, "sprites.jpg")); err == nil {
		video.SpritesKey = outputID + "/sprites.jpg"
	}

	result := storage.ProcessingResult{Video: video}
	for index, stream := range audioStreams {
		id, err := storage.NewID()
		if err != nil {
			return storage.ProcessingResult{}, err
		}
		result.AudioTracks = append(result.AudioTracks, models.AudioTrack{
			ID:         id,
			VideoID:    outputID,
			TrackIndex: index,
			Language:   stream.Language,
			Title:      stream.Title,
			Codec:      stream.Codec,
			Channels:   stream.Channels,
			SampleRate: stream.SampleRate,
			BitRate:    stream.BitRate,
			Default:    stream.Default || index == 0,
		})
	}
	for index, sub := range subs {
		id, err := storage.NewID()
		if err != nil {
			return storage.ProcessingResult{}, err
		}
		track := models.SubtitleTrack{
			ID:         id,
			VideoID:    outputID,
			TrackIndex: index,
			Language:   sub.Stream.Language,
			Title:      sub.Stream.Title,
			Codec:      sub.Stream.Codec,
			StorageKey: outputID + "/subtitles/" + filepath.Base(sub.Path),
			Default:    sub.Stream.Default,
			Forced:     sub.Stream.Forced,
		}
		if sub.IdxPath != "" {
			track.IdxStorageKey = outputID + "/subtitles/" + filepath.Base(sub.IdxPath)
		}
		result.SubtitleTracks = append(result.SubtitleTracks, track)
	}
	for _, font := range fonts {
		id, err := storage.NewID()
		if err != nil {
			return storage.ProcessingResult{}, err
		}
		name := filepath.Base(font)
		result.Attachments = append(result.Attachments, models.Attachment{
			ID:         id,
			VideoID:    outputID,
			Filename:   name,
			Mimetype:   media.FontMimetype(name),
			StorageKey: outputID + "/fonts/" + name,
		})
	}
	for index, mark := range chapterMarks {
		id, err := storage.NewID()
		if err != nil {
			return storage.ProcessingResult{}, err
		}
		result.Chapters = append(result.Chapters, models.Chapter{
			ID:           id,
			VideoID:      outputID,
			ChapterIndex: index,
			StartTime:    mark.StartTime,
			EndTime:      mark.EndTime,
			Title:        mark.Title,
		})
	}
	return result, nil
}

func (c *Coordinator) update(job Job, stage string, percentage int, detail string) {
	c.Progress.Upsert(job.ID, progress.Record{
		Stage:      stage,
		Percentage: percentage,
		Detail:     detail,
		Status:     progress.StatusProcessing,
		Label:      job.Label,
	})
}

// cancelled reports whether the job's record was flipped to a terminal
// state, which happens when the operator cancels it while queued.
func (c *Coordinator) cancelled(jobID string) bool {
	record, ok := c.Progress.Get(jobID)
	return ok && record.Status.Terminal()
}

func (c *Coordinator) fail(job Job, rec *metrics.Recorder, log *slog.Logger, stage string, err error) {
	rec.JobFailed()
	if stage == "cancelled" {
		log.Info("processing stopped by cancellation")
		c.scheduleEviction(job.ID)
		return
	}
	log.Error("processing failed", "stage", stage, "error", err)
	c.Progress.Upsert(job.ID, progress.Record{
		Stage:  progress.StageFailed,
		Detail: fmt.Sprintf("Failed during %s", stage),
		Status: progress.StatusFailed,
		Error:  err.Error(),
		Label:  job.Label,
	})
	c.scheduleEviction(job.ID)
}

// scheduleEviction removes the terminal record after the retention window
// so a slow poller still sees the final state.
func (c *Coordinator) scheduleEviction(jobID string) {
	time.AfterFunc(terminalRetention, func() {
		c.Progress.RemoveIfTerminal(jobID)
	})
}
