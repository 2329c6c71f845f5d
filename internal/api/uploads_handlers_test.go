package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"vodforge/internal/analytics"
	"vodforge/internal/auth"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/pipeline"
	"vodforge/internal/progress"
	"vodforge/internal/storage"
	"vodforge/internal/transcode"
	"vodforge/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	repo, err := storage.NewMemoryRepository("")
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	registry := progress.NewRegistry()
	assembler := upload.NewAssembler(t.TempDir(), testLogger(), nil)
	coordinator := pipeline.NewCoordinator(repo, nil, &transcode.Orchestrator{}, registry, metrics.New(), testLogger(), t.TempDir(), 8)
	handler := NewHandler(repo, assembler, coordinator, registry)
	handler.Logger = testLogger()
	handler.Metrics = metrics.New()
	handler.UploadDir = t.TempDir()
	handler.Analytics = analytics.NewMemoryTracker(30 * time.Second)
	return handler
}

func chunkRequest(t *testing.T, uploadID string, index, total int, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("uploadId", uploadID); err != nil {
		t.Fatalf("write uploadId: %v", err)
	}
	if err := form.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		t.Fatalf("write chunkIndex: %v", err)
	}
	if err := form.WriteField("totalChunks", strconv.Itoa(total)); err != nil {
		t.Fatalf("write totalChunks: %v", err)
	}
	part, err := form.CreateFormFile("chunk", filename)
	if err != nil {
		t.Fatalf("create chunk part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write chunk data: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/chunk", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req
}

func sendChunk(t *testing.T, h *Handler, uploadID string, index, total int, data []byte) chunkResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.UploadChunk(rec, chunkRequest(t, uploadID, index, total, "movie.mkv", data))
	if rec.Code != http.StatusOK {
		t.Fatalf("chunk %d: expected 200, got %d: %s", index, rec.Code, rec.Body.String())
	}
	var resp chunkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode chunk response: %v", err)
	}
	return resp
}

func TestUploadChunkTracksProgress(t *testing.T) {
	h := newTestHandler(t)

	resp := sendChunk(t, h, "u1", 0, 3, []byte("aaa"))
	if resp.Received != 1 || resp.Total != 3 || resp.Complete {
		t.Fatalf("unexpected first chunk response: %+v", resp)
	}
	resp = sendChunk(t, h, "u1", 2, 3, []byte("ccc"))
	if resp.Received != 2 {
		t.Fatalf("expected 2 received, got %d", resp.Received)
	}

	record, ok := h.Progress.Get("u1")
	if !ok {
		t.Fatal("expected progress record for upload")
	}
	if record.Stage != progress.StageReceivingChunks {
		t.Fatalf("unexpected stage %q", record.Stage)
	}
	if record.CurrentUnit != 2 || record.TotalUnits != 3 {
		t.Fatalf("unexpected units %d/%d", record.CurrentUnit, record.TotalUnits)
	}
	if record.Label != "movie.mkv" {
		t.Fatalf("expected label from filename, got %q", record.Label)
	}
}

func TestUploadChunkRejectsBadIndex(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.UploadChunk(rec, chunkRequest(t, "u1", 5, 3, "movie.mkv", []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func finalize(t *testing.T, h *Handler, uploadID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/"+uploadID+"/finalize", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.UploadByID(rec, req)
	return rec
}

func TestFinalizeIncompleteUpload(t *testing.T) {
	h := newTestHandler(t)
	sendChunk(t, h, "u1", 0, 3, []byte("aaa"))
	sendChunk(t, h, "u1", 2, 3, []byte("ccc"))

	rec := finalize(t, h, "u1", `{"name":"Movie"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before all chunks arrive, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFinalizeUnknownUpload(t *testing.T) {
	h := newTestHandler(t)
	rec := finalize(t, h, "nope", `{"name":"Movie"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown upload, got %d", rec.Code)
	}
}

func TestFinalizeQueuesJob(t *testing.T) {
	h := newTestHandler(t)
	sendChunk(t, h, "u1", 0, 3, []byte("aaa"))
	sendChunk(t, h, "u1", 1, 3, []byte("bbb"))
	sendChunk(t, h, "u1", 2, 3, []byte("ccc"))

	rec := finalize(t, h, "u1", `{"name":"Movie","tags":"action, drama"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "u1" {
		t.Fatalf("expected job id u1, got %q", resp.JobID)
	}

	record, ok := h.Progress.Get("u1")
	if !ok {
		t.Fatal("expected progress record after finalize")
	}
	if record.Stage != progress.StageQueued {
		t.Fatalf("expected queued stage, got %q", record.Stage)
	}
	if record.Status != progress.StatusProcessing {
		t.Fatalf("expected processing status, got %q", record.Status)
	}
}

func TestDiscardUpload(t *testing.T) {
	h := newTestHandler(t)
	sendChunk(t, h, "u1", 0, 2, []byte("aaa"))

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/u1", nil)
	rec := httptest.NewRecorder()
	h.UploadByID(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := h.Progress.Get("u1"); ok {
		t.Fatal("expected progress record removed")
	}
	if rec := finalize(t, h, "u1", `{}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after discard, got %d", rec.Code)
	}
}

func TestDirectUpload(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("name", "Direct Movie")
	_ = form.WriteField("tags", "demo")
	part, err := form.CreateFormFile("file", "direct.mkv")
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write([]byte("videodata")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	h.DirectUpload(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("expected a job id")
	}
	record, ok := h.Progress.Get(resp.JobID)
	if !ok || record.Stage != progress.StageQueued {
		t.Fatalf("expected queued record, got %+v (found=%v)", record, ok)
	}
}

func hashTestToken(t *testing.T, token string) (*auth.Guard, error) {
	t.Helper()
	return auth.NewGuard(token)
}

func TestUploadEndpointsRequireToken(t *testing.T) {
	h := newTestHandler(t)
	hash, err := hashTestToken(t, "secret")
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	h.Guard = hash

	rec := httptest.NewRecorder()
	h.UploadChunk(rec, chunkRequest(t, "u1", 0, 1, "movie.mkv", []byte("x")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := chunkRequest(t, "u1", 0, 1, "movie.mkv", []byte("x"))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.UploadChunk(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
}
