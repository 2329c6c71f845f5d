package api

import (
	"net/http"
)

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Config exposes the non-sensitive runtime configuration the web UI needs.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	info := h.Info
	info.AuthRequired = h.Guard != nil && h.Guard.Enabled()
	writeJSON(w, http.StatusOK, info)
}
