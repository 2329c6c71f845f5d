package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vodforge/internal/storage"
)

type heartbeatRequest struct {
	SessionID string `json:"sessionId"`
}

type heartbeatResponse struct {
	Viewers int64 `json:"viewers"`
}

// viewerHeartbeat records one viewer presence ping and returns the current
// live viewer count for the video.
func (h *Handler) viewerHeartbeat(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.Analytics == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("analytics disabled"))
		return
	}
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sessionId is required"))
		return
	}
	if _, err := h.Store.Video(r.Context(), videoID); err != nil {
		if errors.Is(err, storage.ErrVideoNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.Analytics.Heartbeat(r.Context(), videoID, sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.recorder().ObserveViewerHeartbeat()
	viewers, err := h.Analytics.ViewerCount(r.Context(), videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Viewers: viewers})
}

// Viewers reports live viewer counts across all videos.
func (h *Handler) Viewers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	if h.Analytics == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("analytics disabled"))
		return
	}
	summary, err := h.Analytics.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"viewers": summary})
}
