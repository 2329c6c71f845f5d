// Command transcoder runs the processing pipeline for local files without the
// HTTP server: probe, encode the rendition ladder, extract tracks and upload
// the result to object storage. Useful for batch-ingesting an existing
// collection into the same catalog the server reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"vodforge/internal/objectstore"
	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/pipeline"
	"vodforge/internal/progress"
	"vodforge/internal/storage"
	"vodforge/internal/transcode"
)

const pollInterval = 500 * time.Millisecond

func main() {
	dataPath := flag.String("data", "data/library.json", "path to the JSON catalog the results are recorded in")
	workDir := flag.String("work-dir", "", "scratch directory for transcode jobs (default: a temp dir)")
	encoder := flag.String("encoder", "", "encoder backend (cpu, nvenc, vaapi or qsv)")
	encodePermits := flag.Int("max-concurrent-encodes", 2, "renditions encoded in parallel")
	uploadPermits := flag.Int("max-concurrent-uploads", 4, "segment uploads in flight at once")
	tags := flag.String("tags", "", "comma separated tags applied to every file")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for playback URLs")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: transcoder [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := logging.New(logging.Config{Level: *logLevel})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewMemoryRepository(*dataPath)
	if err != nil {
		logger.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:       envFallback(*objectEndpoint, "VODFORGE_OBJECT_ENDPOINT"),
		Region:         envFallback(*objectRegion, "VODFORGE_OBJECT_REGION"),
		AccessKey:      envFallback(*objectAccessKey, "VODFORGE_OBJECT_ACCESS_KEY"),
		SecretKey:      envFallback(*objectSecretKey, "VODFORGE_OBJECT_SECRET_KEY"),
		Bucket:         envFallback(*objectBucket, "VODFORGE_OBJECT_BUCKET"),
		UseSSL:         *objectUseSSL,
		PublicEndpoint: envFallback(*objectPublicEndpoint, "VODFORGE_OBJECT_PUBLIC_ENDPOINT"),
		RequestTimeout: 5 * time.Minute,
	})
	if err != nil {
		logger.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	scratch := *workDir
	if scratch == "" {
		scratch, err = os.MkdirTemp("", "vodforge-transcoder-")
		if err != nil {
			logger.Error("failed to create scratch directory", "error", err)
			os.Exit(1)
		}
		defer os.RemoveAll(scratch)
	}

	registry := progress.NewRegistry()
	coordinator := pipeline.NewCoordinator(
		store,
		&objectstore.Uploader{
			Client:  objects,
			Permits: semaphore.NewWeighted(int64(*uploadPermits)),
			Logger:  logging.WithComponent(logger, "objectstore"),
		},
		&transcode.Orchestrator{
			Family:  transcode.ParseFamily(envFallback(*encoder, "VODFORGE_ENCODER")),
			Permits: semaphore.NewWeighted(int64(*encodePermits)),
			Logger:  logging.WithComponent(logger, "transcode"),
		},
		registry,
		metrics.Default(),
		logging.WithComponent(logger, "pipeline"),
		scratch,
		flag.NArg(),
	)
	coordinator.Run(ctx, 1)

	var jobTags []string
	for _, tag := range strings.Split(*tags, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			jobTags = append(jobTags, trimmed)
		}
	}

	failures := 0
	for index, input := range flag.Args() {
		if ctx.Err() != nil {
			break
		}
		jobID := fmt.Sprintf("batch-%d", index)
		if err := coordinator.Enqueue(pipeline.Job{
			ID:    jobID,
			Input: input,
			Label: filepath.Base(input),
			Tags:  jobTags,
		}); err != nil {
			logger.Error("failed to enqueue", "input", input, "error", err)
			failures++
			continue
		}
		record, ok := waitForJob(ctx, registry, jobID)
		switch {
		case !ok:
			logger.Warn("interrupted", "input", input)
			failures++
		case record.Status == progress.StatusFailed:
			logger.Error("processing failed", "input", input, "stage", record.Stage, "error", record.Error)
			failures++
		default:
			playerPath := ""
			if record.Result != nil {
				playerPath = record.Result.PlayerURL
			}
			logger.Info("processed", "input", input, "player", playerPath)
		}
	}

	if failures > 0 {
		logger.Error("batch finished with failures", "failed", failures, "total", flag.NArg())
		os.Exit(1)
	}
	logger.Info("batch finished", "total", flag.NArg())
}

// waitForJob polls until the job reaches a terminal state or ctx is
// cancelled. The terminal record is captured before the registry evicts it.
func waitForJob(ctx context.Context, registry *progress.Registry, jobID string) (progress.Record, bool) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return progress.Record{}, false
		case <-ticker.C:
			record, ok := registry.Get(jobID)
			if ok && record.Status.Terminal() {
				return record, true
			}
		}
	}
}

func envFallback(flagValue, envKey string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv(envKey))
}
