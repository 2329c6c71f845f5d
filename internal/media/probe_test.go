package media

import "testing"

const sampleVideoProbe = `{
	"streams": [{"index": 0, "codec_name": "h264", "height": 1080}],
	"format": {"duration": "3599.52"}
}`

func TestParseSourceInfo(t *testing.T) {
	info, err := ParseSourceInfo([]byte(sampleVideoProbe))
	if err != nil {
		t.Fatalf("ParseSourceInfo: %v", err)
	}
	if info.Height != 1080 {
		t.Fatalf("expected height 1080, got %d", info.Height)
	}
	if info.DurationSeconds != 3600 {
		t.Fatalf("expected rounded duration 3600, got %d", info.DurationSeconds)
	}
}

func TestParseSourceInfoRejectsMissingVideo(t *testing.T) {
	if _, err := ParseSourceInfo([]byte(`{"streams": [], "format": {"duration": "10"}}`)); err == nil {
		t.Fatal("expected an error with no video stream")
	}
	if _, err := ParseSourceInfo([]byte(`{"streams": [{"height": 720}], "format": {}}`)); err == nil {
		t.Fatal("expected an error with no duration")
	}
}

func TestParseAudioStreams(t *testing.T) {
	data := []byte(`{"streams": [
		{"index": 1, "codec_name": "aac", "channels": 2, "sample_rate": "48000", "bit_rate": "128000",
		 "disposition": {"default": 1}, "tags": {"language": "eng", "title": "Stereo"}},
		{"index": 2, "channels": 6}
	]}`)
	streams, err := ParseAudioStreams(data)
	if err != nil {
		t.Fatalf("ParseAudioStreams: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams))
	}
	first := streams[0]
	if first.Codec != "aac" || first.Language != "eng" || first.Title != "Stereo" {
		t.Fatalf("unexpected first stream %+v", first)
	}
	if !first.Default || first.SampleRate != 48000 || first.BitRate != 128000 {
		t.Fatalf("unexpected first stream details %+v", first)
	}
	if streams[1].Codec != "unknown" {
		t.Fatalf("expected unknown codec fallback, got %q", streams[1].Codec)
	}
	if streams[1].Channels != 6 || streams[1].Default {
		t.Fatalf("unexpected second stream %+v", streams[1])
	}
	// Container indexes are reported as-is; audio-relative positions are
	// the caller's slice positions.
	if streams[0].StreamIndex != 1 || streams[1].StreamIndex != 2 {
		t.Fatalf("container indexes altered: %d, %d", streams[0].StreamIndex, streams[1].StreamIndex)
	}
}

func TestParseSubtitleStreams(t *testing.T) {
	data := []byte(`{"streams": [
		{"index": 3, "codec_name": "subrip", "disposition": {"default": 1, "forced": 1},
		 "tags": {"language": "spa", "title": "Forced"}}
	]}`)
	streams, err := ParseSubtitleStreams(data)
	if err != nil {
		t.Fatalf("ParseSubtitleStreams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	s := streams[0]
	if s.StreamIndex != 3 || s.Codec != "subrip" || s.Language != "spa" || !s.Default || !s.Forced {
		t.Fatalf("unexpected stream %+v", s)
	}
}

func TestParseAttachments(t *testing.T) {
	data := []byte(`{"streams": [
		{"tags": {"filename": "OpenSans.ttf"}},
		{"tags": {"filename": "logo.bin", "mimetype": "application/x-custom"}},
		{"tags": {"title": "no filename"}}
	]}`)
	attachments, err := ParseAttachments(data)
	if err != nil {
		t.Fatalf("ParseAttachments: %v", err)
	}
	if len(attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(attachments))
	}
	if attachments[0].Mimetype != "font/ttf" {
		t.Fatalf("expected guessed font mimetype, got %q", attachments[0].Mimetype)
	}
	if attachments[1].Mimetype != "application/x-custom" {
		t.Fatalf("expected declared mimetype to win, got %q", attachments[1].Mimetype)
	}
}

func TestParseChapters(t *testing.T) {
	data := []byte(`{"chapters": [
		{"start_time": "0.000000", "end_time": "120.5", "tags": {"title": "Intro"}},
		{"start_time": "120.5", "end_time": "300", "tags": {}}
	]}`)
	chapters, err := ParseChapters(data)
	if err != nil {
		t.Fatalf("ParseChapters: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(chapters))
	}
	if chapters[0].Title != "Intro" || chapters[0].EndTime != 120.5 {
		t.Fatalf("unexpected first chapter %+v", chapters[0])
	}
	if chapters[1].Title != "" {
		t.Fatalf("expected untitled chapter, got %q", chapters[1].Title)
	}
}

func TestFontMimetype(t *testing.T) {
	cases := map[string]string{
		"Font.TTF":    "font/ttf",
		"font.otf":    "font/otf",
		"font.woff":   "font/woff",
		"font.woff2":  "font/woff2",
		"readme.txt":  "application/octet-stream",
		"no-ext-file": "application/octet-stream",
	}
	for filename, want := range cases {
		if got := FontMimetype(filename); got != want {
			t.Fatalf("%s: expected %q, got %q", filename, want, got)
		}
	}
}
