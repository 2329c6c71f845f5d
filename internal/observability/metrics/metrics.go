package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// JobLabel identifies a pipeline job event by stage and outcome.
type JobLabel struct {
	Stage  string
	Status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, pipeline job lifecycle, encoder fallbacks, and object storage
// throughput. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for active job tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	jobEvents        map[JobLabel]uint64
	encodeFallbacks  map[string]uint64
	uploadedObjects  atomic.Uint64
	uploadedBytes    atomic.Uint64
	viewerHeartbeats atomic.Uint64
	activeJobs       atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[JobLabel]uint64),
		encodeFallbacks: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation
// pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records the beginning of a pipeline job and increments the
// active job gauge.
func (r *Recorder) JobStarted() {
	r.recordJobEvent("pipeline", "start")
	r.activeJobs.Add(1)
}

// JobCompleted records a successful pipeline job and decrements the active
// job gauge.
func (r *Recorder) JobCompleted() {
	r.recordJobEvent("pipeline", "complete")
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a failed pipeline job and decrements the active job
// gauge, guarding against negative counts when a job never started.
func (r *Recorder) JobFailed() {
	r.recordJobEvent("pipeline", "fail")
	r.decrementGauge(&r.activeJobs)
}

// ObserveStage records a per-stage event such as "encode"/"complete" or
// "upload"/"fail" for stage-level failure tracking.
func (r *Recorder) ObserveStage(stage, status string) {
	r.recordJobEvent(stage, status)
}

func (r *Recorder) recordJobEvent(stage, status string) {
	label := JobLabel{Stage: normalizeName(stage), Status: normalizeName(status)}
	r.mu.Lock()
	r.jobEvents[label]++
	r.mu.Unlock()
}

// ObserveEncodeFallback counts hardware encoder failures that fell back to
// software, keyed by the encoder family that failed.
func (r *Recorder) ObserveEncodeFallback(family string) {
	name := normalizeName(family)
	r.mu.Lock()
	r.encodeFallbacks[name]++
	r.mu.Unlock()
}

// ObserveUpload accumulates published object counts and byte volume.
func (r *Recorder) ObserveUpload(bytes int64) {
	r.uploadedObjects.Add(1)
	if bytes > 0 {
		r.uploadedBytes.Add(uint64(bytes))
	}
}

// ObserveViewerHeartbeat counts player presence heartbeats.
func (r *Recorder) ObserveViewerHeartbeat() {
	r.viewerHeartbeats.Add(1)
}

// ActiveJobs exposes the current gauge of running pipeline jobs.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// JobCounts returns copies of job event counters and the current active job
// gauge value.
func (r *Recorder) JobCounts() (events map[JobLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[JobLabel]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeJobs.Load()
}

// EncodeFallbackCounts returns a copy of the fallback counters.
func (r *Recorder) EncodeFallbackCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.encodeFallbacks))
	for k, v := range r.encodeFallbacks {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[JobLabel]uint64)
	r.encodeFallbacks = make(map[string]uint64)
	r.uploadedObjects.Store(0)
	r.uploadedBytes.Store(0)
	r.viewerHeartbeats.Store(0)
	r.activeJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobLabels := r.sortedJobLabels()
	fallbackFamilies := r.sortedFallbackFamilies()

	fmt.Fprintln(w, "# HELP vodforge_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE vodforge_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vodforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vodforge_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE vodforge_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "vodforge_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP vodforge_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE vodforge_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "vodforge_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP vodforge_pipeline_jobs_total Pipeline job events by stage and status")
	fmt.Fprintln(w, "# TYPE vodforge_pipeline_jobs_total counter")
	for _, label := range jobLabels {
		count := r.jobEvents[label]
		fmt.Fprintf(w, "vodforge_pipeline_jobs_total{stage=\"%s\",status=\"%s\"} %d\n", label.Stage, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP vodforge_pipeline_active_jobs Current number of running pipeline jobs")
	fmt.Fprintln(w, "# TYPE vodforge_pipeline_active_jobs gauge")
	fmt.Fprintf(w, "vodforge_pipeline_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP vodforge_encode_fallbacks_total Hardware encode failures that retried on software, by family")
	fmt.Fprintln(w, "# TYPE vodforge_encode_fallbacks_total counter")
	for _, family := range fallbackFamilies {
		count := r.encodeFallbacks[family]
		fmt.Fprintf(w, "vodforge_encode_fallbacks_total{family=\"%s\"} %d\n", family, count)
	}

	fmt.Fprintln(w, "# HELP vodforge_uploaded_objects_total Objects published to storage")
	fmt.Fprintln(w, "# TYPE vodforge_uploaded_objects_total counter")
	fmt.Fprintf(w, "vodforge_uploaded_objects_total %d\n", r.uploadedObjects.Load())

	fmt.Fprintln(w, "# HELP vodforge_uploaded_bytes_total Bytes published to storage")
	fmt.Fprintln(w, "# TYPE vodforge_uploaded_bytes_total counter")
	fmt.Fprintf(w, "vodforge_uploaded_bytes_total %d\n", r.uploadedBytes.Load())

	fmt.Fprintln(w, "# HELP vodforge_viewer_heartbeats_total Player presence heartbeats received")
	fmt.Fprintln(w, "# TYPE vodforge_viewer_heartbeats_total counter")
	fmt.Fprintf(w, "vodforge_viewer_heartbeats_total %d\n", r.viewerHeartbeats.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobLabels() []JobLabel {
	labels := make([]JobLabel, 0, len(r.jobEvents))
	for label := range r.jobEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Stage != labels[j].Stage {
			return labels[i].Stage < labels[j].Stage
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func (r *Recorder) sortedFallbackFamilies() []string {
	families := make([]string, 0, len(r.encodeFallbacks))
	for family := range r.encodeFallbacks {
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// JobStarted records a job start on the default recorder.
func JobStarted() {
	defaultRecorder.JobStarted()
}

// JobCompleted records a job completion on the default recorder.
func JobCompleted() {
	defaultRecorder.JobCompleted()
}

// JobFailed records a job failure on the default recorder.
func JobFailed() {
	defaultRecorder.JobFailed()
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
