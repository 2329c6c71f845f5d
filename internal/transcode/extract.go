package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"vodforge/internal/media"
)

// runFFmpegInDir is the exec seam for invocations that depend on the working
// directory, which attachment dumping does.
var runFFmpegInDir = func(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// ExtractedSubtitle is one subtitle file written under the working
// directory. IdxPath is set only for VobSub tracks, which carry their
// palette in a sidecar.
type ExtractedSubtitle struct {
	Stream  media.SubtitleStream
	Path    string
	IdxPath string
}

// ExtractSubtitles writes every subtitle stream into workDir/subtitles.
// Text tracks are transcoded to a web-friendly codec, bitmap tracks are
// copied verbatim. A single failing track skips that track rather than
// failing the job.
func (o *Orchestrator) ExtractSubtitles(ctx context.Context, input, workDir string, streams []media.SubtitleStream) ([]ExtractedSubtitle, error) {
	if len(streams) == 0 {
		return nil, nil
	}
	dir := filepath.Join(workDir, "subtitles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var extracted []ExtractedSubtitle
	for index, stream := range streams {
		ext := media.SubtitleExtension(stream.Codec)
		path := filepath.Join(dir, fmt.Sprintf("track_%d.%s", index, ext))
		args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", input,
			"-map", fmt.Sprintf("0:s:%d", index)}
		if media.IsBitmapSubtitle(stream.Codec) {
			args = append(args, "-c:s", "copy")
		} else {
			args = append(args, "-c:s", media.SubtitleConversionCodec(ext))
		}
		args = append(args, path)

		if stderr, err := runFFmpeg(ctx, args...); err != nil {
			o.logger().Warn("subtitle extraction failed, skipping track",
				"track", index,
				"codec", stream.Codec,
				"error", err,
				"stderr", tail(stderr))
			continue
		}
		sub := ExtractedSubtitle{Stream: stream, Path: path}
		if media.IsVobSubSubtitle(stream.Codec) {
			idx := filepath.Join(dir, fmt.Sprintf("track_%d.idx", index))
			if _, err := os.Stat(idx); err == nil {
				sub.IdxPath = idx
			}
		}
		extracted = append(extracted, sub)
	}
	return extracted, nil
}

// ExtractAttachments dumps every embedded attachment, typically subtitle
// fonts, into workDir/fonts. ffmpeg exits non-zero after dumping because no
// output file is given, so the exit status is ignored and success is judged
// by what landed on disk.
func (o *Orchestrator) ExtractAttachments(ctx context.Context, input, workDir string, attachments []media.AttachmentStream) ([]string, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	dir := filepath.Join(workDir, "fonts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	_ = runFFmpegInDir(ctx, dir, "-y", "-hide_banner", "-loglevel", "error",
		"-dump_attachment:t", "", "-i", input)

	var written []string
	for _, attachment := range attachments {
		if attachment.Filename == "" {
			continue
		}
		path := filepath.Join(dir, filepath.Base(attachment.Filename))
		if _, err := os.Stat(path); err == nil {
			written = append(written, path)
		} else {
			o.logger().Warn("attachment not dumped", "filename", attachment.Filename)
		}
	}
	return written, nil
}
