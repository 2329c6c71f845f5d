package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vodforge/internal/media"
)

func TestExtractSubtitlesBuildsPerCodecArgs(t *testing.T) {
	var invocations []string
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		invocations = append(invocations, strings.Join(args, " "))
		return nil, nil
	})

	orch := &Orchestrator{Family: FamilyCPU}
	streams := []media.SubtitleStream{
		{StreamIndex: 0, Codec: "subrip", Language: "eng"},
		{StreamIndex: 1, Codec: "hdmv_pgs_subtitle", Language: "jpn"},
	}
	work := t.TempDir()
	extracted, err := orch.ExtractSubtitles(context.Background(), "in.mkv", work, streams)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(extracted) != 2 {
		t.Fatalf("expected two extracted tracks, got %d", len(extracted))
	}
	if !strings.Contains(invocations[0], "-map 0:s:0 -c:s srt") {
		t.Errorf("text track should be transcoded: %q", invocations[0])
	}
	if !strings.HasSuffix(extracted[0].Path, "track_0.srt") {
		t.Errorf("unexpected text track path: %q", extracted[0].Path)
	}
	if !strings.Contains(invocations[1], "-map 0:s:1 -c:s copy") {
		t.Errorf("bitmap track should be copied: %q", invocations[1])
	}
	if !strings.HasSuffix(extracted[1].Path, "track_1.sup") {
		t.Errorf("unexpected bitmap track path: %q", extracted[1].Path)
	}
}

func TestExtractSubtitlesSkipsFailingTrack(t *testing.T) {
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		if strings.Contains(strings.Join(args, " "), "0:s:0") {
			return []byte("corrupt stream"), errors.New("exit status 1")
		}
		return nil, nil
	})

	orch := &Orchestrator{Family: FamilyCPU}
	streams := []media.SubtitleStream{
		{StreamIndex: 0, Codec: "subrip"},
		{StreamIndex: 1, Codec: "ass"},
	}
	extracted, err := orch.ExtractSubtitles(context.Background(), "in.mkv", t.TempDir(), streams)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(extracted) != 1 || !strings.HasSuffix(extracted[0].Path, "track_1.ass") {
		t.Fatalf("expected only the second track, got %v", extracted)
	}
}

func TestExtractSubtitlesRecordsVobSubSidecar(t *testing.T) {
	work := t.TempDir()
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		// VobSub extraction leaves an .idx palette next to the .sub file.
		idx := filepath.Join(work, "subtitles", "track_0.idx")
		if err := os.MkdirAll(filepath.Dir(idx), 0o755); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(idx, []byte("# VobSub index file"), 0o644)
	})

	orch := &Orchestrator{Family: FamilyCPU}
	streams := []media.SubtitleStream{{StreamIndex: 0, Codec: "dvd_subtitle"}}
	extracted, err := orch.ExtractSubtitles(context.Background(), "in.mkv", work, streams)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(extracted) != 1 || extracted[0].IdxPath == "" {
		t.Fatalf("expected idx sidecar to be recorded, got %v", extracted)
	}
}

func TestExtractAttachmentsCollectsDumpedFonts(t *testing.T) {
	previous := runFFmpegInDir
	runFFmpegInDir = func(ctx context.Context, dir string, args ...string) error {
		if err := os.WriteFile(filepath.Join(dir, "NotoSans.ttf"), []byte("font"), 0o644); err != nil {
			return err
		}
		// ffmpeg exits non-zero after dumping when no output is given.
		return errors.New("exit status 1")
	}
	t.Cleanup(func() { runFFmpegInDir = previous })

	orch := &Orchestrator{Family: FamilyCPU}
	attachments := []media.AttachmentStream{
		{Filename: "NotoSans.ttf", Mimetype: "font/ttf"},
		{Filename: "Missing.otf", Mimetype: "font/otf"},
	}
	written, err := orch.ExtractAttachments(context.Background(), "in.mkv", t.TempDir(), attachments)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(written) != 1 || !strings.HasSuffix(written[0], "NotoSans.ttf") {
		t.Fatalf("expected only the dumped font, got %v", written)
	}
}
