package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vodforge/internal/models"
	"vodforge/internal/storage"
)

type videoListResponse struct {
	Videos []models.Video `json:"videos"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type updateVideoRequest struct {
	Name string `json:"name"`
	Tags string `json:"tags"`
}

type playbackResponse struct {
	Video        models.Video        `json:"video"`
	PlaybackURL  string              `json:"playbackUrl,omitempty"`
	ThumbnailURL string              `json:"thumbnailUrl,omitempty"`
	SpritesURL   string              `json:"spritesUrl,omitempty"`
	AudioTracks  []models.AudioTrack `json:"audioTracks"`
	Subtitles    []subtitleWithURL   `json:"subtitles"`
	Attachments  []attachmentWithURL `json:"attachments"`
	Chapters     []models.Chapter    `json:"chapters"`
	Viewers      int64               `json:"viewers"`
}

type subtitleWithURL struct {
	models.SubtitleTrack
	URL    string `json:"url,omitempty"`
	IdxURL string `json:"idxUrl,omitempty"`
}

type attachmentWithURL struct {
	models.Attachment
	URL string `json:"url,omitempty"`
}

// Videos serves the catalog listing.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	videos, total, err := h.Store.ListVideos(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, videoListResponse{
		Videos: videos,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// VideoByID dispatches /api/videos/{id} and its subresources.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, "/api/videos/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	videoID := segments[0]

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.getVideo(w, r, videoID)
		case http.MethodPatch:
			if !h.requireAdmin(w, r) {
				return
			}
			h.updateVideo(w, r, videoID)
		case http.MethodDelete:
			if !h.requireAdmin(w, r) {
				return
			}
			h.deleteVideo(w, r, videoID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
		return
	}

	if len(segments) == 2 {
		switch segments[1] {
		case "playback":
			h.playbackInfo(w, r, videoID)
			return
		case "audio-tracks":
			h.listTracks(w, r, videoID, func(ctx context.Context) (interface{}, error) {
				return h.Store.AudioTracks(ctx, videoID)
			})
			return
		case "subtitles":
			h.listTracks(w, r, videoID, func(ctx context.Context) (interface{}, error) {
				return h.Store.SubtitleTracks(ctx, videoID)
			})
			return
		case "attachments":
			h.listTracks(w, r, videoID, func(ctx context.Context) (interface{}, error) {
				return h.Store.Attachments(ctx, videoID)
			})
			return
		case "chapters":
			h.listTracks(w, r, videoID, func(ctx context.Context) (interface{}, error) {
				return h.Store.Chapters(ctx, videoID)
			})
			return
		case "heartbeat":
			h.viewerHeartbeat(w, r, videoID)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown video route"))
}

func (h *Handler) getVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	video, err := h.Store.Video(r.Context(), videoID)
	if err != nil {
		writeVideoError(w, videoID, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) updateVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	var req updateVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	video, err := h.Store.UpdateVideo(r.Context(), videoID, req.Name, parseTags(req.Tags))
	if err != nil {
		writeVideoError(w, videoID, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

// deleteVideo removes the metadata rows first, then sweeps the object store
// tree best-effort. A remote sweep failure leaves orphaned objects rather
// than a half-visible catalog entry.
func (h *Handler) deleteVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	video, err := h.Store.DeleteVideo(r.Context(), videoID)
	if err != nil {
		writeVideoError(w, videoID, err)
		return
	}
	if h.Objects != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := h.Objects.DeletePrefix(ctx, video.ID+"/"); err != nil {
			h.logger().Warn("failed to remove stored objects", "videoId", video.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) playbackInfo(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx := r.Context()
	video, err := h.Store.Video(ctx, videoID)
	if err != nil {
		writeVideoError(w, videoID, err)
		return
	}
	audio, err := h.Store.AudioTracks(ctx, videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	subtitles, err := h.Store.SubtitleTracks(ctx, videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	attachments, err := h.Store.Attachments(ctx, videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	chapters, err := h.Store.Chapters(ctx, videoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := playbackResponse{
		Video:       video,
		AudioTracks: audio,
		Chapters:    chapters,
		Subtitles:   make([]subtitleWithURL, 0, len(subtitles)),
		Attachments: make([]attachmentWithURL, 0, len(attachments)),
	}
	if h.Objects != nil {
		resp.PlaybackURL = h.Objects.PublicURL(video.EntrypointKey)
		if video.ThumbnailKey != "" {
			resp.ThumbnailURL = h.Objects.PublicURL(video.ThumbnailKey)
		}
		if video.SpritesKey != "" {
			resp.SpritesURL = h.Objects.PublicURL(video.SpritesKey)
		}
	}
	for _, track := range subtitles {
		entry := subtitleWithURL{SubtitleTrack: track}
		if h.Objects != nil {
			entry.URL = h.Objects.PublicURL(track.StorageKey)
			if track.IdxStorageKey != "" {
				entry.IdxURL = h.Objects.PublicURL(track.IdxStorageKey)
			}
		}
		resp.Subtitles = append(resp.Subtitles, entry)
	}
	for _, attachment := range attachments {
		entry := attachmentWithURL{Attachment: attachment}
		if h.Objects != nil {
			entry.URL = h.Objects.PublicURL(attachment.StorageKey)
		}
		resp.Attachments = append(resp.Attachments, entry)
	}
	if h.Analytics != nil {
		if viewers, err := h.Analytics.ViewerCount(ctx, videoID); err == nil {
			resp.Viewers = viewers
		}
	}

	if _, err := h.Store.IncrementViewCount(ctx, videoID); err != nil {
		h.logger().Warn("failed to count view", "videoId", videoID, "error", err)
	} else {
		resp.Video.ViewCount++
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listTracks(w http.ResponseWriter, r *http.Request, videoID string, fetch func(context.Context) (interface{}, error)) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	items, err := fetch(r.Context())
	if err != nil {
		writeVideoError(w, videoID, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HLS redirects playlist and segment requests under /hls/{id}/... to the
// object storage public endpoint. The playback endpoint already hands out
// absolute URLs; this route exists for clients that only keep the player URL.
func (h *Handler) HLS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	segments := pathSegments(r, "/hls/")
	if len(segments) < 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if h.Objects == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("object storage is not configured"))
		return
	}
	target := h.Objects.PublicURL(strings.Join(segments, "/"))
	if target == "" {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("no public playback endpoint configured"))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeVideoError(w http.ResponseWriter, videoID string, err error) {
	if errors.Is(err, storage.ErrVideoNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
