package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"vodforge/internal/progress"
)

// stuckJobAge is how old a non-terminal progress entry must be before the
// cleanup endpoint reclaims it.
const stuckJobAge = time.Hour

type queueItem struct {
	JobID string `json:"jobId"`
	progressEvent
	CreatedAt string `json:"createdAt"`
}

type queueResponse struct {
	Jobs      []queueItem `json:"jobs"`
	Active    int         `json:"active"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
}

// Queue lists every known job oldest-first with aggregate counts.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	summary := h.Progress.List()
	jobs := make([]queueItem, 0, len(summary.Items))
	for _, item := range summary.Items {
		jobs = append(jobs, queueItem{
			JobID:         item.JobID,
			progressEvent: newProgressEvent(item.Record),
			CreatedAt:     item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Jobs:      jobs,
		Active:    summary.Active,
		Completed: summary.Completed,
		Failed:    summary.Failed,
	})
}

// QueueByID handles /api/queue/{id}/cancel.
func (h *Handler) QueueByID(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, "/api/queue/")
	if len(segments) != 2 || segments[1] != "cancel" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown queue route"))
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	jobID := segments[0]
	record, err := h.Progress.Cancel(jobID)
	switch {
	case errors.Is(err, progress.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, progress.ErrNotCancellable):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		h.Assembler.Discard(jobID)
		writeJSON(w, http.StatusOK, queueItem{
			JobID:         jobID,
			progressEvent: newProgressEvent(record),
			CreatedAt:     record.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
}

type cleanupResponse struct {
	RemovedJobs []string `json:"removedJobs"`
	RemovedDirs []string `json:"removedDirs"`
}

// Cleanup reclaims stuck progress entries and orphaned upload directories.
// It complements the periodic stale-session sweep, which only touches
// sessions the assembler still knows about.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	removedJobs := h.Progress.SweepStuck(stuckJobAge)
	removedDirs := h.Assembler.CleanupOrphans()
	h.logger().Info("manual cleanup completed",
		"removedJobs", len(removedJobs), "removedDirs", len(removedDirs))
	writeJSON(w, http.StatusOK, cleanupResponse{
		RemovedJobs: removedJobs,
		RemovedDirs: removedDirs,
	})
}
