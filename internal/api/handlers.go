// Package api implements the HTTP handlers for uploads, progress streaming,
// queue administration, the video catalog, and viewer analytics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"vodforge/internal/analytics"
	"vodforge/internal/auth"
	"vodforge/internal/objectstore"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/pipeline"
	"vodforge/internal/progress"
	"vodforge/internal/storage"
	"vodforge/internal/upload"
)

// ConfigInfo is the public configuration surface reported by the config
// endpoint so the upload page can size itself.
type ConfigInfo struct {
	Encoder              string `json:"encoder"`
	MaxConcurrentEncodes int    `json:"maxConcurrentEncodes"`
	MaxConcurrentUploads int    `json:"maxConcurrentUploads"`
	AuthRequired         bool   `json:"authRequired"`
}

type Handler struct {
	Store     storage.Repository
	Assembler *upload.Assembler
	Pipeline  *pipeline.Coordinator
	Progress  *progress.Registry
	Analytics analytics.Tracker
	Guard     *auth.Guard
	Objects   *objectstore.Client
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Info      ConfigInfo

	// UploadDir receives direct (non-chunked) uploads before processing.
	UploadDir string
}

func NewHandler(store storage.Repository, assembler *upload.Assembler, pipe *pipeline.Coordinator, registry *progress.Registry) *Handler {
	return &Handler{
		Store:     store,
		Assembler: assembler,
		Pipeline:  pipe,
		Progress:  registry,
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// requireAdmin enforces the admin bearer token when one is configured. A
// handler should return immediately when it reports false.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.Guard == nil || !h.Guard.Enabled() {
		return true
	}
	if err := h.Guard.AuthorizeRequest(r); err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

// pathSegments splits the request path after prefix into its non-empty
// segments.
func pathSegments(r *http.Request, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// parseTags splits a freeform comma-separated tag string, dropping empties
// and surrounding whitespace.
func parseTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.TrimSpace(part)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
