package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vodforge/internal/progress"
)

const (
	// progressPollInterval is how often the stream re-reads the registry.
	progressPollInterval = 500 * time.Millisecond
	// progressAppearanceTimeout bounds how long the stream waits for a job
	// id to first show up in the registry.
	progressAppearanceTimeout = 60 * time.Second
	// progressLinger keeps the stream open briefly after a terminal status
	// so a client that just connected still sees the final event.
	progressLinger = 3 * time.Second
)

type progressEvent struct {
	Stage       string           `json:"stage"`
	CurrentUnit int              `json:"currentUnit"`
	TotalUnits  int              `json:"totalUnits"`
	Percentage  int              `json:"percentage"`
	Detail      string           `json:"detail,omitempty"`
	Status      progress.Status  `json:"status"`
	Result      *progress.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Label       string           `json:"label,omitempty"`
}

func newProgressEvent(record progress.Record) progressEvent {
	return progressEvent{
		Stage:       record.Stage,
		CurrentUnit: record.CurrentUnit,
		TotalUnits:  record.TotalUnits,
		Percentage:  record.Percentage,
		Detail:      record.Detail,
		Status:      record.Status,
		Result:      record.Result,
		Error:       record.Error,
		Label:       record.Label,
	}
}

// streamProgress serves one job's progress as server-sent events until the
// job reaches a terminal state or the client goes away.
func (h *Handler) streamProgress(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	appearanceDeadline := time.Now().Add(progressAppearanceTimeout)
	var lingerUntil time.Time

	for {
		record, found := h.Progress.Get(jobID)
		switch {
		case !found && lingerUntil.IsZero():
			if time.Now().After(appearanceDeadline) {
				sendEvent(w, flusher, progressEvent{
					Stage:  progress.StageFailed,
					Status: progress.StatusFailed,
					Error:  "job not found",
				})
				return
			}
		case !found:
			// Evicted while lingering; the terminal event already went out.
			return
		default:
			sendEvent(w, flusher, newProgressEvent(record))
			if record.Status.Terminal() {
				if lingerUntil.IsZero() {
					lingerUntil = time.Now().Add(progressLinger)
				} else if time.Now().After(lingerUntil) {
					return
				}
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event progressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
