package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veranemoloko/media-harvester/internal/domain"
	apperr "github.com/veranemoloko/media-harvester/internal/errors"
	"github.com/veranemoloko/media-harvester/internal/validation"
)

const maxBodyBytes = 1 << 20

// HarvestServiceI defines the business operations exposed over HTTP.
type HarvestServiceI interface {
	Enqueue(ctx context.Context, req domain.EnqueueTaskRequest) (domain.EnqueueTaskResponse, error)
	Tasks(state domain.TaskState) []*domain.QueueTask
	Task(id int64) (*domain.QueueTask, error)
	RetryTask(ctx context.Context, id int64) (*domain.QueueTask, error)
	CancelPending(ctx context.Context, url string) (int, error)

	LookupByURL(ctx context.Context, url string) (*domain.FingerprintRecord, error)
	StartScan(root string) (domain.ScanStatus, error)
	Scan(id string) (domain.ScanStatus, error)
	ClearIndex(ctx context.Context) error

	Statistics(ctx context.Context) (domain.Statistics, error)
	Activity() []domain.StatusEvent
}

// TaskHandler handles HTTP requests for queue tasks.
type TaskHandler struct {
	service HarvestServiceI
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler with the provided service and logger.
func NewTaskHandler(service HarvestServiceI, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{service: service, logger: logger}
}

// EnqueueTask handles POST /tasks. It answers 201 for a new task, 200 for
// an equivalent live task and 200 with already_downloaded for a known URL.
func (h *TaskHandler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validation.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Enqueue(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to enqueue task", "url", req.URL, "error", err)
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// ListTasks handles GET /tasks with an optional state filter.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	state := domain.TaskState(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": h.service.Tasks(state),
	})
}

// GetTask handles GET /tasks/{taskID}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.service.Task(taskID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RetryTask handles POST /tasks/{taskID}/retry.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.service.RetryTask(r.Context(), taskID)
	if err != nil {
		h.logger.Warn("failed to retry task", "task_id", taskID, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelTasks handles DELETE /tasks?url=.
func (h *TaskHandler) CancelTasks(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	n, err := h.service.CancelPending(r.Context(), url)
	if err != nil {
		h.logger.Error("failed to cancel tasks", "url", url, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || taskID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task ID")
		return 0, false
	}
	return taskID, true
}

// FingerprintHandler handles HTTP requests for the fingerprint index.
type FingerprintHandler struct {
	service HarvestServiceI
	logger  *slog.Logger
}

// NewFingerprintHandler creates a new FingerprintHandler.
func NewFingerprintHandler(service HarvestServiceI, logger *slog.Logger) *FingerprintHandler {
	return &FingerprintHandler{service: service, logger: logger}
}

// Lookup handles GET /fingerprints/lookup?url=.
func (h *FingerprintHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	rec, err := h.service.LookupByURL(r.Context(), url)
	if err != nil {
		h.logger.Error("failed to look up url", "url", url, "error", err)
		writeServiceError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "fingerprint not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StartScan handles POST /fingerprints/scans.
func (h *FingerprintHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req domain.StartScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.service.StartScan(req.Root)
	if err != nil {
		h.logger.Warn("failed to start scan", "root", req.Root, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("scan started", "scan_id", status.ID, "root", status.Root)
	writeJSON(w, http.StatusAccepted, status)
}

// GetScan handles GET /fingerprints/scans/{scanID}.
func (h *FingerprintHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	if _, err := uuid.Parse(scanID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan ID")
		return
	}

	status, err := h.service.Scan(scanID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Clear handles DELETE /fingerprints?confirm=true.
func (h *FingerprintHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "confirm=true is required")
		return
	}

	if err := h.service.ClearIndex(r.Context()); err != nil {
		h.logger.Error("failed to clear index", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Stats handles GET /stats.
func (h *FingerprintHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.logger.Error("failed to compute statistics", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Activity handles GET /activity.
func (h *FingerprintHandler) Activity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": h.service.Activity(),
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, apperr.ErrScanNotFound):
		writeError(w, http.StatusNotFound, "scan not found")
	case errors.Is(err, apperr.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "queue is shutting down")
	case apperr.IsPersistence(err):
		writeError(w, http.StatusInternalServerError, "persistence failure")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
