package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"vodforge/internal/media"
)

var ffmpegBinary = "ffmpeg"

// runFFmpeg executes ffmpeg and returns captured stderr alongside the exit
// error. Tests replace it to exercise fan-out and fallback without a real
// encoder.
var runFFmpeg = func(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// AudioRendition describes one encoded audio directory. Index is the
// position of the stream among the source's audio streams, which is what
// ffmpeg's 0:a:N selector counts; Stream.StreamIndex is the container-wide
// index and must not be used for mapping.
type AudioRendition struct {
	Stream media.AudioStream
	Index  int
	Label  string
	Dir    string
}

// Result collects what Encode produced under the working directory.
type Result struct {
	Variants []media.Variant
	Audio    []AudioRendition
}

// Orchestrator runs all renditions of a source concurrently. Permits is the
// process-wide encode pool shared across jobs, so parallel uploads cannot
// oversubscribe the encoder.
type Orchestrator struct {
	Family  Family
	Permits *semaphore.Weighted
	Logger  *slog.Logger

	// OnUnitDone is invoked after each finished rendition with the number
	// of completed and total units. Thumbnail and sprite generation do not
	// count as units.
	OnUnitDone func(done, total int, detail string)

	// OnFallback is invoked when a hardware encode fails and the rendition
	// is retried on software.
	OnFallback func(family Family)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) reportUnit(done, total int, detail string) {
	if o.OnUnitDone != nil {
		o.OnUnitDone(done, total, detail)
	}
}

// Encode produces every video rendition of the adaptive ladder plus one HLS
// rendition per audio stream under workDir. All renditions run concurrently
// subject to the permit pool; the first failure cancels the remainder.
func (o *Orchestrator) Encode(ctx context.Context, input, workDir string, source media.SourceInfo, audio []media.AudioStream) (Result, error) {
	variants := media.LadderForHeight(source.Height)
	if len(variants) == 0 {
		return Result{}, fmt.Errorf("no renditions for source height %d", source.Height)
	}

	result := Result{Variants: variants}
	for index, stream := range audio {
		label := media.AudioRenditionLabel(stream, index)
		result.Audio = append(result.Audio, AudioRendition{
			Stream: stream,
			Index:  index,
			Label:  label,
			Dir:    filepath.Join(workDir, "audio_"+label),
		})
	}

	total := len(variants) + len(result.Audio)
	var done atomic.Int64

	group, ctx := errgroup.WithContext(ctx)
	for _, variant := range variants {
		variant := variant
		segmentDir := filepath.Join(workDir, variant.Label)
		group.Go(func() error {
			if err := o.Permits.Acquire(ctx, 1); err != nil {
				return err
			}
			defer o.Permits.Release(1)
			if err := o.encodeVariant(ctx, input, variant, segmentDir); err != nil {
				return fmt.Errorf("encode %s: %w", variant.Label, err)
			}
			o.reportUnit(int(done.Add(1)), total, variant.Label)
			return nil
		})
	}
	for _, rendition := range result.Audio {
		rendition := rendition
		group.Go(func() error {
			if err := o.Permits.Acquire(ctx, 1); err != nil {
				return err
			}
			defer o.Permits.Release(1)
			if err := o.encodeAudio(ctx, input, rendition); err != nil {
				return fmt.Errorf("encode audio %s: %w", rendition.Label, err)
			}
			o.reportUnit(int(done.Add(1)), total, "audio "+rendition.Label)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}
	return result, nil
}

// encodeVariant runs one video rendition. When a hardware encoder fails with
// a recognized capability error the partial output is wiped and the
// rendition is retried once on software.
func (o *Orchestrator) encodeVariant(ctx context.Context, input string, variant media.Variant, segmentDir string) error {
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		return err
	}
	stderr, err := runFFmpeg(ctx, VariantArgs(o.Family, input, variant, segmentDir)...)
	if err == nil {
		return nil
	}
	if !o.Family.Hardware() || !IsHardwareFailure(string(stderr)) {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr))
	}

	o.logger().Warn("hardware encode failed, retrying on software",
		"variant", variant.Label,
		"family", string(o.Family))
	if o.OnFallback != nil {
		o.OnFallback(o.Family)
	}
	if err := os.RemoveAll(segmentDir); err != nil {
		return err
	}
	if err := os.MkdirAll(segmentDir, 0o755); err != nil {
		return err
	}
	stderr, err = runFFmpeg(ctx, VariantArgs(FamilyCPU, input, variant, segmentDir)...)
	if err != nil {
		return fmt.Errorf("ffmpeg software fallback: %w: %s", err, tail(stderr))
	}
	return nil
}

func (o *Orchestrator) encodeAudio(ctx context.Context, input string, rendition AudioRendition) error {
	if err := os.MkdirAll(rendition.Dir, 0o755); err != nil {
		return err
	}
	stderr, err := runFFmpeg(ctx, AudioArgs(input, rendition.Index, rendition.Stream.Channels, rendition.Dir)...)
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr))
	}
	return nil
}

// Thumbnail writes a poster frame next to the renditions. Failure is not
// fatal to the job; callers log and continue.
func (o *Orchestrator) Thumbnail(ctx context.Context, input string, durationSeconds float64, workDir string) (string, error) {
	path := filepath.Join(workDir, "thumbnail.jpg")
	stderr, err := runFFmpeg(ctx, ThumbnailArgs(input, durationSeconds, path)...)
	if err != nil {
		return "", fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr))
	}
	return path, nil
}

// Sprites writes the scrub-preview tile sheet. Like Thumbnail it is best
// effort.
func (o *Orchestrator) Sprites(ctx context.Context, input string, durationSeconds float64, workDir string) (string, error) {
	path := filepath.Join(workDir, "sprites.jpg")
	stderr, err := runFFmpeg(ctx, SpriteArgs(input, durationSeconds, path)...)
	if err != nil {
		return "", fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr))
	}
	return path, nil
}

// tail trims stderr to a size suitable for embedding in an error.
func tail(stderr []byte) string {
	const max = 512
	trimmed := bytes.TrimSpace(stderr)
	if len(trimmed) > max {
		trimmed = trimmed[len(trimmed)-max:]
	}
	return string(trimmed)
}
