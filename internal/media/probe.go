package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// runProbe executes ffprobe and returns its stdout. Overridable so tests can
// feed captured JSON without a real ffprobe binary.
var runProbe = func(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return out, nil
}

// SourceInfo is the container-level metadata required to derive the variant
// ladder and schedule thumbnail generation.
type SourceInfo struct {
	Height          int
	DurationSeconds int
}

// AudioStream describes one audio stream discovered in the source container.
type AudioStream struct {
	StreamIndex int
	Codec       string
	Language    string
	Title       string
	Channels    int
	SampleRate  int
	BitRate     int64
	Default     bool
}

// SubtitleStream describes one subtitle stream in the source container.
type SubtitleStream struct {
	StreamIndex int
	Codec       string
	Language    string
	Title       string
	Default     bool
	Forced      bool
}

// AttachmentStream is an embedded attachment, typically a font used by ASS
// subtitles.
type AttachmentStream struct {
	Filename string
	Mimetype string
}

// ChapterMark is one chapter boundary from the container.
type ChapterMark struct {
	StartTime float64
	EndTime   float64
	Title     string
}

// Inspect returns the source height and rounded duration for the first video
// stream of the file.
func Inspect(ctx context.Context, path string) (SourceInfo, error) {
	out, err := runProbe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=height:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	return ParseSourceInfo(out)
}

// AudioStreams lists every audio stream with the metadata needed for encode
// planning and manifest generation.
func AudioStreams(ctx context.Context, path string) ([]AudioStream, error) {
	out, err := runProbe(ctx,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index,codec_name,channels,sample_rate,bit_rate:stream_tags=language,title:stream_disposition=default",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("probe audio streams %s: %w", path, err)
	}
	return ParseAudioStreams(out)
}

// SubtitleStreams lists every subtitle stream in the container.
func SubtitleStreams(ctx context.Context, path string) ([]SubtitleStream, error) {
	out, err := runProbe(ctx,
		"-v", "error",
		"-select_streams", "s",
		"-show_entries", "stream=index,codec_name:stream_tags=language,title:stream_disposition=default,forced",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("probe subtitle streams %s: %w", path, err)
	}
	return ParseSubtitleStreams(out)
}

// Attachments lists embedded attachments. Probe failures are treated as "no
// attachments" because many containers cannot carry them at all.
func Attachments(ctx context.Context, path string) ([]AttachmentStream, error) {
	out, err := runProbe(ctx,
		"-v", "error",
		"-select_streams", "t",
		"-show_entries", "stream=index:stream_tags=filename,mimetype",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, nil
	}
	return ParseAttachments(out)
}

// Chapters lists container chapters. Probe failures are treated as "no
// chapters".
func Chapters(ctx context.Context, path string) ([]ChapterMark, error) {
	out, err := runProbe(ctx,
		"-v", "error",
		"-show_chapters",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, nil
	}
	return ParseChapters(out)
}

// --- ffprobe JSON wire types ---

type probeOutput struct {
	Format   probeFormat    `json:"format"`
	Streams  []probeStream  `json:"streams"`
	Chapters []probeChapter `json:"chapters"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeStream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	Height      int               `json:"height"`
	Channels    int               `json:"channels"`
	SampleRate  string            `json:"sample_rate"`
	BitRate     string            `json:"bit_rate"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

// ffprobe prints chapter boundaries as quoted decimal strings.
type probeChapter struct {
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Tags      map[string]string `json:"tags"`
}

// ParseSourceInfo converts raw ffprobe JSON into SourceInfo. Exported for
// testing against captured output.
func ParseSourceInfo(data []byte) (SourceInfo, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return SourceInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(raw.Streams) == 0 || raw.Streams[0].Height <= 0 {
		return SourceInfo{}, fmt.Errorf("no video stream height reported")
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("no container duration reported")
	}
	return SourceInfo{
		Height:          raw.Streams[0].Height,
		DurationSeconds: int(duration + 0.5),
	}, nil
}

// ParseAudioStreams converts raw ffprobe JSON into audio stream descriptors.
func ParseAudioStreams(data []byte) ([]AudioStream, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	streams := make([]AudioStream, 0, len(raw.Streams))
	for _, s := range raw.Streams {
		stream := AudioStream{
			StreamIndex: s.Index,
			Codec:       s.CodecName,
			Language:    s.Tags["language"],
			Title:       s.Tags["title"],
			Channels:    s.Channels,
			Default:     s.Disposition["default"] == 1,
		}
		if stream.Codec == "" {
			stream.Codec = "unknown"
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(s.SampleRate)); err == nil {
			stream.SampleRate = rate
		}
		if bitRate, err := strconv.ParseInt(strings.TrimSpace(s.BitRate), 10, 64); err == nil {
			stream.BitRate = bitRate
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// ParseSubtitleStreams converts raw ffprobe JSON into subtitle descriptors.
func ParseSubtitleStreams(data []byte) ([]SubtitleStream, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	streams := make([]SubtitleStream, 0, len(raw.Streams))
	for _, s := range raw.Streams {
		codec := s.CodecName
		if codec == "" {
			codec = "unknown"
		}
		streams = append(streams, SubtitleStream{
			StreamIndex: s.Index,
			Codec:       codec,
			Language:    s.Tags["language"],
			Title:       s.Tags["title"],
			Default:     s.Disposition["default"] == 1,
			Forced:      s.Disposition["forced"] == 1,
		})
	}
	return streams, nil
}

// ParseAttachments converts raw ffprobe JSON into attachment descriptors.
// Streams without a filename tag are skipped; missing mimetypes are guessed
// from the filename extension.
func ParseAttachments(data []byte) ([]AttachmentStream, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	attachments := make([]AttachmentStream, 0, len(raw.Streams))
	for _, s := range raw.Streams {
		filename := strings.TrimSpace(s.Tags["filename"])
		if filename == "" {
			continue
		}
		mimetype := strings.TrimSpace(s.Tags["mimetype"])
		if mimetype == "" {
			mimetype = FontMimetype(filename)
		}
		attachments = append(attachments, AttachmentStream{Filename: filename, Mimetype: mimetype})
	}
	return attachments, nil
}

// ParseChapters converts raw ffprobe JSON into chapter marks.
func ParseChapters(data []byte) ([]ChapterMark, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	chapters := make([]ChapterMark, 0, len(raw.Chapters))
	for _, c := range raw.Chapters {
		start, err := strconv.ParseFloat(strings.TrimSpace(c.StartTime), 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(c.EndTime), 64)
		if err != nil {
			continue
		}
		chapters = append(chapters, ChapterMark{
			StartTime: start,
			EndTime:   end,
			Title:     c.Tags["title"],
		})
	}
	return chapters, nil
}

func FontMimetype(filename string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".ttf"):
		return "font/ttf"
	case strings.HasSuffix(strings.ToLower(filename), ".otf"):
		return "font/otf"
	case strings.HasSuffix(strings.ToLower(filename), ".woff2"):
		return "font/woff2"
	case strings.HasSuffix(strings.ToLower(filename), ".woff"):
		return "font/woff"
	default:
		return "application/octet-stream"
	}
}
