// Package progress holds the process-wide job progress registry. Every
// pipeline stage writes through it and every status poller reads from it; it
// is deliberately volatile, so job state does not survive a restart.
package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the coarse lifecycle state of a job.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage labels shown to pollers. Percentage resets at each stage boundary.
const (
	StageInitializing    = "Initializing upload"
	StageReceivingChunks = "Receiving chunks"
	StageAssembling      = "Assembling file"
	StageQueued          = "Queued for processing"
	StageInspecting      = "Inspecting source"
	StageEncoding        = "Encoding"
	StageExtracting      = "Extracting streams"
	StageUploading       = "Uploading to storage"
	StagePersisting      = "Saving metadata"
	StageCompleted       = "Completed"
	StageFailed          = "Failed"
	StageCancelled       = "Cancelled"
)

// Result is the payload attached to a completed job.
type Result struct {
	PlayerURL string `json:"playerUrl"`
	JobID     string `json:"jobId"`
}

// Record is the live status document for one job.
type Record struct {
	Stage       string
	CurrentUnit int
	TotalUnits  int
	Percentage  int
	Detail      string
	Status      Status
	Result      *Result
	Error       string
	Label       string
	CreatedAt   time.Time
}

// Summary is a queue listing snapshot with aggregate counts.
type Summary struct {
	Items     []Item
	Active    int
	Completed int
	Failed    int
}

// Item is one queue entry keyed by job id.
type Item struct {
	JobID string
	Record
}

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = fmt.Errorf("job not found")

// ErrNotCancellable is returned when a job has progressed past the stages
// that may be cancelled without killing an in-flight encode.
var ErrNotCancellable = fmt.Errorf("job is already being processed")

// Registry is a concurrency-safe map from job id to progress record. Each
// job id has a single writer (its coordinator) but any number of readers.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Upsert stores the record for a job. The creation timestamp of an existing
// entry is preserved so queue ordering is stable across stage transitions; a
// brand-new entry with a zero CreatedAt is stamped with the current time.
func (r *Registry) Upsert(jobID string, record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[jobID]; ok && !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.records[jobID] = record
}

// Get returns the record for a job id.
func (r *Registry) Get(jobID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[jobID]
	return record, ok
}

// Remove deletes the record for a job id.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	delete(r.records, jobID)
	r.mu.Unlock()
}

// RemoveIfTerminal deletes the record only when it has reached an end state.
// Used after the terminal grace period so a slow poller can still observe
// the final status.
func (r *Registry) RemoveIfTerminal(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[jobID]; ok && record.Status.Terminal() {
		delete(r.records, jobID)
	}
}

// List returns every record sorted oldest-first with aggregate counts.
func (r *Registry) List() Summary {
	r.mu.RLock()
	items := make([]Item, 0, len(r.records))
	for id, record := range r.records {
		items = append(items, Item{JobID: id, Record: record})
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].JobID < items[j].JobID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	summary := Summary{Items: items}
	for _, item := range items {
		switch item.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusFailed:
			summary.Failed++
		default:
			summary.Active++
		}
	}
	return summary
}

// cancellableStages are the early stages during which no encode subprocess
// is running yet, so a job can be torn down by flipping its record.
var cancellableStages = map[string]struct{}{
	StageInitializing:    {},
	StageReceivingChunks: {},
	StageQueued:          {},
}

// Cancel forces the record into a failed terminal state with a cancellation
// detail. It returns ErrNotCancellable when the job's stage indicates active
// processing: in-flight subprocesses are never killed through the registry.
func (r *Registry) Cancel(jobID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[jobID]
	if !ok {
		return Record{}, ErrNotFound
	}
	if record.Status.Terminal() {
		return Record{}, ErrNotCancellable
	}
	if _, early := cancellableStages[record.Stage]; !early && record.Status != StatusInitializing {
		return Record{}, fmt.Errorf("%w (stage: %s)", ErrNotCancellable, record.Stage)
	}
	cancelled := Record{
		Stage:      StageCancelled,
		TotalUnits: record.TotalUnits,
		Detail:     "Cancelled by user",
		Status:     StatusFailed,
		Error:      "Cancelled by user",
		Label:      record.Label,
		CreatedAt:  record.CreatedAt,
	}
	r.records[jobID] = cancelled
	return cancelled, nil
}

// SweepStuck removes non-terminal entries older than maxAge. It reclaims
// records orphaned by a coordinator that never reached an end state and
// returns the ids it removed.
func (r *Registry) SweepStuck(maxAge time.Duration) []string {
	cutoff := time.Now().UTC().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, record := range r.records {
		if !record.Status.Terminal() && record.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			removed = append(removed, id)
		}
	}
	return removed
}
