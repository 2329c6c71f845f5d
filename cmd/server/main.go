// Command server starts the vodforge HTTP service: chunked video uploads,
// the transcode pipeline, the catalog API and the embedded web UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"vodforge/internal/analytics"
	"vodforge/internal/api"
	"vodforge/internal/auth"
	"vodforge/internal/objectstore"
	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/pipeline"
	"vodforge/internal/progress"
	"vodforge/internal/server"
	"vodforge/internal/storage"
	"vodforge/internal/transcode"
	"vodforge/internal/upload"
)

const (
	defaultQueueDepth     = 16
	defaultJobWorkers     = 2
	defaultEncodePermits  = 2
	defaultUploadPermits  = 4
	defaultViewerWindow   = 30 * time.Second
	assemblerSweepPeriod  = 5 * time.Minute
	objectRequestTimeout  = 5 * time.Minute
	shutdownDrainInterval = 10 * time.Second
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON catalog file")
	storageDriver := flag.String("storage-driver", "", "catalog driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when opening the Postgres pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	uploadDir := flag.String("upload-dir", "", "directory for in-flight chunked uploads")
	workDir := flag.String("work-dir", "", "scratch directory for transcode jobs")
	encoder := flag.String("encoder", "", "encoder backend (cpu, nvenc, vaapi or qsv)")
	encodePermits := flag.Int("max-concurrent-encodes", 0, "renditions encoded in parallel across all jobs")
	uploadPermits := flag.Int("max-concurrent-uploads", 0, "segment uploads in flight at once")
	jobWorkers := flag.Int("job-workers", 0, "jobs processed concurrently")
	queueDepth := flag.Int("queue-depth", 0, "jobs allowed to wait behind the running ones")
	adminToken := flag.String("admin-token", "", "bearer token required on operator endpoints (empty disables auth)")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for playback URLs")
	redisAddr := flag.String("redis-addr", "", "Redis address for viewer analytics and shared rate limits")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database number")
	viewerWindow := flag.Duration("viewer-window", 0, "how long a heartbeat counts a viewer as watching")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	mode := flag.String("mode", "", "runtime mode (development or production)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum upload POSTs per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting upload POSTs")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VODFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VODFORGE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := strings.ToLower(firstNonEmpty(*mode, os.Getenv("VODFORGE_MODE"), "development"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, driver, err := openStore(ctx, *storageDriver, *dataPath, *postgresDSN, storageOptions{
		maxConns:       resolveInt(*postgresMaxConns, "VODFORGE_POSTGRES_MAX_CONNS"),
		minConns:       resolveInt(*postgresMinConns, "VODFORGE_POSTGRES_MIN_CONNS"),
		connLifetime:   resolveDuration(*postgresMaxConnLifetime, "VODFORGE_POSTGRES_MAX_CONN_LIFETIME", 0),
		connIdle:       resolveDuration(*postgresMaxConnIdle, "VODFORGE_POSTGRES_MAX_CONN_IDLE", 0),
		connectTimeout: resolveDuration(*postgresConnectTimeout, "VODFORGE_POSTGRES_CONNECT_TIMEOUT", 0),
		appName:        firstNonEmpty(*postgresAppName, os.Getenv("VODFORGE_POSTGRES_APP_NAME")),
	})
	if err != nil {
		logger.Error("failed to open catalog store", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres storage driver", "driver", driver)
		os.Exit(1)
	}

	objectCfg := objectstore.Config{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("VODFORGE_OBJECT_ENDPOINT")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("VODFORGE_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("VODFORGE_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("VODFORGE_OBJECT_SECRET_KEY")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("VODFORGE_OBJECT_BUCKET")),
		UseSSL:         resolveBool(*objectUseSSL, "VODFORGE_OBJECT_USE_SSL"),
		PublicEndpoint: firstNonEmpty(*objectPublicEndpoint, os.Getenv("VODFORGE_OBJECT_PUBLIC_ENDPOINT")),
		RequestTimeout: objectRequestTimeout,
	}
	objects, err := objectstore.New(objectCfg)
	if err != nil {
		logger.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	uploadPermitCount := resolveIntDefault(*uploadPermits, "VODFORGE_MAX_CONCURRENT_UPLOADS", defaultUploadPermits)
	uploader := &objectstore.Uploader{
		Client:  objects,
		Permits: semaphore.NewWeighted(int64(uploadPermitCount)),
		Logger:  logging.WithComponent(logger, "objectstore"),
	}

	family := transcode.ParseFamily(firstNonEmpty(*encoder, os.Getenv("VODFORGE_ENCODER")))
	encodePermitCount := resolveIntDefault(*encodePermits, "VODFORGE_MAX_CONCURRENT_ENCODES", defaultEncodePermits)
	orchestrator := &transcode.Orchestrator{
		Family:  family,
		Permits: semaphore.NewWeighted(int64(encodePermitCount)),
		Logger:  logging.WithComponent(logger, "transcode"),
	}

	registry := progress.NewRegistry()

	uploadRoot := resolvePath(*uploadDir, "VODFORGE_UPLOAD_DIR", "data/uploads")
	if err := os.MkdirAll(uploadRoot, 0o755); err != nil {
		logger.Error("failed to create upload directory", "path", uploadRoot, "error", err)
		os.Exit(1)
	}
	assembler := upload.NewAssembler(uploadRoot, logging.WithComponent(logger, "uploads"), registry.Remove)
	go assembler.Run(ctx.Done(), assemblerSweepPeriod)

	scratchRoot := resolvePath(*workDir, "VODFORGE_WORK_DIR", "data/work")
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		logger.Error("failed to create work directory", "path", scratchRoot, "error", err)
		os.Exit(1)
	}
	coordinator := pipeline.NewCoordinator(
		store,
		uploader,
		orchestrator,
		registry,
		recorder,
		logging.WithComponent(logger, "pipeline"),
		scratchRoot,
		resolveIntDefault(*queueDepth, "VODFORGE_QUEUE_DEPTH", defaultQueueDepth),
	)
	coordinator.Run(ctx, resolveIntDefault(*jobWorkers, "VODFORGE_JOB_WORKERS", defaultJobWorkers))

	tracker, err := openTracker(ctx, logger,
		firstNonEmpty(*redisAddr, os.Getenv("VODFORGE_REDIS_ADDR")),
		firstNonEmpty(*redisPassword, os.Getenv("VODFORGE_REDIS_PASSWORD")),
		resolveInt(*redisDB, "VODFORGE_REDIS_DB"),
		resolveDuration(*viewerWindow, "VODFORGE_VIEWER_WINDOW", defaultViewerWindow),
	)
	if err != nil {
		logger.Error("failed to configure viewer analytics", "error", err)
		os.Exit(1)
	}

	guard, err := auth.NewGuard(firstNonEmpty(*adminToken, os.Getenv("VODFORGE_ADMIN_TOKEN")))
	if err != nil {
		logger.Error("failed to configure admin token", "error", err)
		os.Exit(1)
	}
	if !guard.Enabled() {
		if serverMode == "production" {
			logger.Error("production mode requires an admin token", "hint", "set --admin-token or VODFORGE_ADMIN_TOKEN")
			os.Exit(1)
		}
		logger.Warn("operator endpoints are unauthenticated; set --admin-token or VODFORGE_ADMIN_TOKEN")
	}

	handler := api.NewHandler(store, assembler, coordinator, registry)
	handler.Analytics = tracker
	handler.Guard = guard
	handler.Objects = objects
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")
	handler.UploadDir = uploadRoot
	handler.Info = api.ConfigInfo{
		Encoder:              string(family),
		MaxConcurrentEncodes: encodePermitCount,
		MaxConcurrentUploads: uploadPermitCount,
	}

	listenAddr := firstNonEmpty(*addr, os.Getenv("VODFORGE_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("VODFORGE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VODFORGE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "VODFORGE_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "VODFORGE_RATE_GLOBAL_BURST"),
			UploadLimit:   resolveInt(*uploadLimit, "VODFORGE_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "VODFORGE_RATE_UPLOAD_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("VODFORGE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("VODFORGE_REDIS_PASSWORD")),
		},
		Security: server.SecurityConfig{
			MediaOrigin: mediaOrigin(objectCfg),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	logger.Info("vodforge listening", "addr", listenAddr, "encoder", string(family))
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainInterval)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close catalog store", "error", err)
	}
	logger.Info("server stopped")
}

type storageOptions struct {
	maxConns       int
	minConns       int
	connLifetime   time.Duration
	connIdle       time.Duration
	connectTimeout time.Duration
	appName        string
}

func openStore(ctx context.Context, flagDriver, flagData, flagDSN string, opts storageOptions) (storage.Repository, string, error) {
	dsn := firstNonEmpty(flagDSN, os.Getenv("VODFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver := strings.ToLower(firstNonEmpty(flagDriver, os.Getenv("VODFORGE_STORAGE_DRIVER")))
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}

	switch driver {
	case "json":
		dataFile := resolvePath(flagData, "VODFORGE_DATA", "data/library.json")
		store, err := storage.NewMemoryRepository(dataFile)
		return store, driver, err
	case "postgres":
		if dsn == "" {
			return nil, driver, fmt.Errorf("postgres storage selected without a DSN: set VODFORGE_POSTGRES_DSN, DATABASE_URL, or --postgres-dsn")
		}
		var pgOptions []storage.Option
		if opts.maxConns > 0 || opts.minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPoolSize(int32(opts.minConns), int32(opts.maxConns)))
		}
		if opts.connLifetime > 0 || opts.connIdle > 0 {
			pgOptions = append(pgOptions, storage.WithConnLifetimes(opts.connLifetime, opts.connIdle))
		}
		if opts.connectTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithConnectTimeout(opts.connectTimeout))
		}
		if opts.appName != "" {
			pgOptions = append(pgOptions, storage.WithApplicationName(opts.appName))
		}
		store, err := storage.NewPostgresRepository(ctx, dsn, pgOptions...)
		return store, driver, err
	default:
		return nil, driver, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func openTracker(ctx context.Context, logger *slog.Logger, addr, password string, db int, window time.Duration) (analytics.Tracker, error) {
	if addr == "" {
		return analytics.NewMemoryTracker(window), nil
	}
	logger.Info("viewer analytics backed by Redis", "addr", addr)
	return analytics.NewRedisTracker(ctx, addr, password, db, window)
}

// mediaOrigin extracts the scheme and host of the playback endpoint so the
// content security policy can allow the player to fetch segments from it.
func mediaOrigin(cfg objectstore.Config) string {
	raw := firstNonEmpty(cfg.PublicEndpoint, cfg.Endpoint)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + parsed.Host
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolvePath(flagValue, envKey, fallback string) string {
	if path := firstNonEmpty(flagValue, os.Getenv(envKey)); path != "" {
		return path
	}
	return fallback
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveIntDefault(flagValue int, envKey string, fallback int) int {
	if value := resolveInt(flagValue, envKey); value > 0 {
		return value
	}
	return fallback
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
