package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vodforge/internal/pipeline"
	"vodforge/internal/progress"
	"vodforge/internal/storage"
	"vodforge/internal/upload"
)

type chunkResponse struct {
	UploadID string `json:"uploadId"`
	Received int    `json:"received"`
	Total    int    `json:"total"`
	Complete bool   `json:"complete"`
}

type finalizeRequest struct {
	Name string `json:"name"`
	Tags string `json:"tags"`
}

type acceptedResponse struct {
	JobID string `json:"jobId"`
}

// UploadChunk accepts one chunk of a chunked upload. The multipart form must
// carry uploadId, chunkIndex and totalChunks before the chunk part itself so
// the body can be streamed straight to disk.
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	uploadID := ""
	filename := ""
	chunkIndex := -1
	totalChunks := -1
	var received, total int
	stored := false

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		switch part.FormName() {
		case "uploadId":
			uploadID, err = readFormValue(part)
		case "chunkIndex":
			chunkIndex, err = readFormInt(part)
		case "totalChunks":
			totalChunks, err = readFormInt(part)
		case "chunk", "file":
			if uploadID == "" || chunkIndex < 0 || totalChunks <= 0 {
				part.Close()
				writeError(w, http.StatusBadRequest, fmt.Errorf("uploadId, chunkIndex and totalChunks must precede the chunk data"))
				return
			}
			if name := strings.TrimSpace(part.FileName()); name != "" {
				filename = filepath.Base(name)
			}
			received, total, err = h.Assembler.StoreChunk(uploadID, filename, chunkIndex, totalChunks, part)
			if err == nil {
				stored = true
			}
		default:
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if !stored {
		writeError(w, http.StatusBadRequest, fmt.Errorf("chunk data is required"))
		return
	}

	record, _ := h.Progress.Get(uploadID)
	percentage := 0
	if total > 0 {
		percentage = received * 100 / total
	}
	h.Progress.Upsert(uploadID, progress.Record{
		Stage:       progress.StageReceivingChunks,
		CurrentUnit: received,
		TotalUnits:  total,
		Percentage:  percentage,
		Detail:      fmt.Sprintf("Received %d of %d chunks", received, total),
		Status:      progress.StatusInitializing,
		Label:       filename,
		CreatedAt:   record.CreatedAt,
	})

	writeJSON(w, http.StatusOK, chunkResponse{
		UploadID: uploadID,
		Received: received,
		Total:    total,
		Complete: received == total,
	})
}

// UploadByID dispatches /api/uploads/{id}, /api/uploads/{id}/finalize and
// /api/uploads/{id}/progress.
func (h *Handler) UploadByID(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, "/api/uploads/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("upload id missing"))
		return
	}
	uploadID := segments[0]

	if len(segments) == 2 {
		switch segments[1] {
		case "finalize":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			if !h.requireAdmin(w, r) {
				return
			}
			h.finalizeUpload(w, r, uploadID)
			return
		case "progress":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			if !h.requireAdmin(w, r) {
				return
			}
			h.streamProgress(w, r, uploadID)
			return
		}
	}
	if len(segments) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if !h.requireAdmin(w, r) {
			return
		}
		h.Assembler.Discard(uploadID)
		h.Progress.Remove(uploadID)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown upload route"))
}

func (h *Handler) finalizeUpload(w http.ResponseWriter, r *http.Request, uploadID string) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	label := strings.TrimSpace(req.Name)
	if label == "" {
		if original, ok := h.Assembler.Filename(uploadID); ok {
			label = original
		}
	}

	record, _ := h.Progress.Get(uploadID)
	h.Progress.Upsert(uploadID, progress.Record{
		Stage:     progress.StageAssembling,
		Detail:    "Concatenating chunks",
		Status:    progress.StatusProcessing,
		Label:     label,
		CreatedAt: record.CreatedAt,
	})

	path, err := h.Assembler.Assemble(uploadID)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnknownSession):
			h.Progress.Remove(uploadID)
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, upload.ErrIncomplete):
			h.Progress.Upsert(uploadID, progress.Record{
				Stage:     progress.StageReceivingChunks,
				Detail:    "Waiting for remaining chunks",
				Status:    progress.StatusInitializing,
				Label:     label,
				CreatedAt: record.CreatedAt,
			})
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	job := pipeline.Job{
		ID:         uploadID,
		Input:      path,
		CleanupDir: filepath.Dir(path),
		Label:      label,
		Tags:       parseTags(req.Tags),
	}
	if err := h.Pipeline.Enqueue(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: uploadID})
}

// DirectUpload accepts a whole file in one multipart request and schedules
// it for processing.
func (h *Handler) DirectUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	jobID, err := storage.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	name := ""
	tags := ""
	savedPath := ""
	uploadDir := filepath.Join(h.UploadDir, "direct-"+jobID)

	cleanup := func() {
		if savedPath != "" {
			_ = os.RemoveAll(uploadDir)
		}
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		switch part.FormName() {
		case "name":
			name, err = readFormValue(part)
		case "tags":
			tags, err = readFormValue(part)
		case "file":
			savedPath, err = saveUploadedFile(uploadDir, part.FileName(), part)
		default:
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if savedPath == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return
	}
	if name == "" {
		name = filepath.Base(savedPath)
	}

	job := pipeline.Job{
		ID:         jobID,
		Input:      savedPath,
		CleanupDir: uploadDir,
		Label:      name,
		Tags:       parseTags(tags),
	}
	if err := h.Pipeline.Enqueue(job); err != nil {
		cleanup()
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: jobID})
}

func saveUploadedFile(dir, filename string, body io.Reader) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "upload.bin"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Join(dir, base)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}

// readFormValue reads a small form field, bounded so a mislabelled file part
// cannot balloon memory.
func readFormValue(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return "", fmt.Errorf("read form field: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func readFormInt(part io.Reader) (int, error) {
	raw, err := readFormValue(part)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric field %q", raw)
	}
	return value, nil
}
