package transcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/semaphore"

	"vodforge/internal/media"
)

func stubFFmpeg(t *testing.T, fn func(ctx context.Context, args ...string) ([]byte, error)) {
	t.Helper()
	previous := runFFmpeg
	runFFmpeg = fn
	t.Cleanup(func() { runFFmpeg = previous })
}

func TestEncodeRunsEveryRendition(t *testing.T) {
	var calls atomic.Int64
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	})

	orch := &Orchestrator{Family: FamilyCPU, Permits: semaphore.NewWeighted(4)}
	source := media.SourceInfo{Height: 1080, DurationSeconds: 120}
	audio := []media.AudioStream{
		{StreamIndex: 0, Codec: "aac", Language: "eng", Channels: 2},
		{StreamIndex: 1, Codec: "ac3", Language: "jpn", Channels: 6},
	}

	result, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, audio)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(result.Variants) != 3 {
		t.Fatalf("expected 480p/720p/1080p ladder, got %v", result.Variants)
	}
	if len(result.Audio) != 2 {
		t.Fatalf("expected two audio renditions, got %v", result.Audio)
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("expected five ffmpeg invocations, got %d", got)
	}
	if result.Audio[0].Label != "eng_0" || result.Audio[1].Label != "jpn_1" {
		t.Fatalf("unexpected audio labels: %v, %v", result.Audio[0].Label, result.Audio[1].Label)
	}
}

func TestEncodeMapsAudioByStreamOrder(t *testing.T) {
	var mu sync.Mutex
	var maps []string
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		for i, arg := range args {
			if arg == "-map" && i+1 < len(args) && strings.HasPrefix(args[i+1], "0:a:") {
				mu.Lock()
				maps = append(maps, args[i+1])
				mu.Unlock()
			}
		}
		return nil, nil
	})

	orch := &Orchestrator{Family: FamilyCPU, Permits: semaphore.NewWeighted(1)}
	source := media.SourceInfo{Height: 480, DurationSeconds: 60}
	// Container indexes start at 1 because the video stream occupies 0;
	// the 0:a:N selector counts audio streams only.
	audio := []media.AudioStream{
		{StreamIndex: 1, Codec: "aac", Language: "eng", Channels: 2},
		{StreamIndex: 2, Codec: "ac3", Language: "jpn", Channels: 6},
	}

	if _, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, audio); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(maps) != 2 {
		t.Fatalf("expected two audio maps, got %v", maps)
	}
	want := map[string]bool{"0:a:0": false, "0:a:1": false}
	for _, m := range maps {
		if _, ok := want[m]; !ok {
			t.Fatalf("unexpected audio map %q (container index leaked into selector): %v", m, maps)
		}
		want[m] = true
	}
	for selector, seen := range want {
		if !seen {
			t.Fatalf("missing audio map %q: %v", selector, maps)
		}
	}
}

func TestEncodeHonorsPermitBound(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	gate := make(chan struct{})
	var once sync.Once

	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		if inFlight == 2 {
			once.Do(func() { close(gate) })
		}
		mu.Unlock()
		<-gate
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, nil
	})

	orch := &Orchestrator{Family: FamilyCPU, Permits: semaphore.NewWeighted(2)}
	source := media.SourceInfo{Height: 2160, DurationSeconds: 120}
	if _, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if peak > 2 {
		t.Fatalf("encode exceeded permit bound: peak %d", peak)
	}
}

func TestEncodeFallsBackToSoftwareOnce(t *testing.T) {
	var hardware, software atomic.Int64
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		joined := strings.Join(args, " ")
		if strings.Contains(joined, "h264_nvenc") {
			hardware.Add(1)
			return []byte("Provided device doesn't support required NVENC features"), errors.New("exit status 1")
		}
		software.Add(1)
		return nil, nil
	})

	orch := &Orchestrator{Family: FamilyNVENC, Permits: semaphore.NewWeighted(4)}
	source := media.SourceInfo{Height: 480, DurationSeconds: 60}
	if _, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, nil); err != nil {
		t.Fatalf("expected software fallback to succeed, got %v", err)
	}
	if hardware.Load() != 1 || software.Load() != 1 {
		t.Fatalf("expected one hardware and one software attempt, got %d/%d", hardware.Load(), software.Load())
	}
}

func TestEncodeDoesNotRetryNonHardwareErrors(t *testing.T) {
	var calls atomic.Int64
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		calls.Add(1)
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	})

	orch := &Orchestrator{Family: FamilyNVENC, Permits: semaphore.NewWeighted(4)}
	source := media.SourceInfo{Height: 480, DurationSeconds: 60}
	if _, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, nil); err == nil {
		t.Fatal("expected encode to fail")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestEncodeReportsProgressUnits(t *testing.T) {
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		return nil, nil
	})

	var mu sync.Mutex
	var reports []int
	total := 0
	orch := &Orchestrator{
		Family:  FamilyCPU,
		Permits: semaphore.NewWeighted(1),
		OnUnitDone: func(done, totalUnits int, detail string) {
			mu.Lock()
			reports = append(reports, done)
			total = totalUnits
			mu.Unlock()
		},
	}
	source := media.SourceInfo{Height: 720, DurationSeconds: 60}
	audio := []media.AudioStream{{StreamIndex: 0, Codec: "aac", Channels: 2}}
	if _, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, audio); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected three units (two video, one audio), got %d", total)
	}
	if len(reports) != 3 || reports[len(reports)-1] != 3 {
		t.Fatalf("expected monotone unit reports ending at 3, got %v", reports)
	}
}

func TestEncodeSurfacesFirstFailure(t *testing.T) {
	stubFFmpeg(t, func(ctx context.Context, args ...string) ([]byte, error) {
		joined := strings.Join(args, " ")
		if strings.Contains(joined, "/480p/") {
			return []byte("boom"), fmt.Errorf("exit status 1")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	orch := &Orchestrator{Family: FamilyCPU, Permits: semaphore.NewWeighted(4)}
	source := media.SourceInfo{Height: 1080, DurationSeconds: 60}
	_, err := orch.Encode(context.Background(), "in.mkv", t.TempDir(), source, nil)
	if err == nil || !strings.Contains(err.Error(), "480p") {
		t.Fatalf("expected the 480p failure to surface, got %v", err)
	}
}
