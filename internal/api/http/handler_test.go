package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/media-harvester/internal/domain"
	apperr "github.com/veranemoloko/media-harvester/internal/errors"
)

type mockHarvestService struct {
	known     map[string]*domain.FingerprintRecord
	tasks     map[int64]*domain.QueueTask
	scans     map[string]domain.ScanStatus
	nextID    int64
	cleared   bool
	cancelled []string
	enqueued  []domain.EnqueueTaskRequest
}

func newMockService() *mockHarvestService {
	return &mockHarvestService{
		known:  map[string]*domain.FingerprintRecord{},
		tasks:  map[int64]*domain.QueueTask{},
		scans:  map[string]domain.ScanStatus{},
		nextID: 1,
	}
}

func (m *mockHarvestService) Enqueue(ctx context.Context, req domain.EnqueueTaskRequest) (domain.EnqueueTaskResponse, error) {
	m.enqueued = append(m.enqueued, req)
	if rec, ok := m.known[req.URL]; ok {
		return domain.EnqueueTaskResponse{AlreadyDownloaded: true, Record: rec}, nil
	}
	for _, t := range m.tasks {
		if t.URL == req.URL && t.State.Live() {
			return domain.EnqueueTaskResponse{Task: t}, nil
		}
	}
	task := &domain.QueueTask{ID: m.nextID, URL: req.URL, Destination: req.Destination, State: domain.TaskStatePending}
	m.tasks[task.ID] = task
	m.nextID++
	return domain.EnqueueTaskResponse{Task: task, Created: true}, nil
}

func (m *mockHarvestService) Tasks(state domain.TaskState) []*domain.QueueTask {
	var out []*domain.QueueTask
	for id := int64(1); id < m.nextID; id++ {
		if t, ok := m.tasks[id]; ok && (state == "" || t.State == state) {
			out = append(out, t)
		}
	}
	return out
}

func (m *mockHarvestService) Task(id int64) (*domain.QueueTask, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, apperr.ErrTaskNotFound)
	}
	return t, nil
}

func (m *mockHarvestService) RetryTask(ctx context.Context, id int64) (*domain.QueueTask, error) {
	t, err := m.Task(id)
	if err != nil {
		return nil, err
	}
	if t.State != domain.TaskStateFailed {
		return nil, fmt.Errorf("task %d: %w", id, apperr.ErrInvalidTransition)
	}
	t.State = domain.TaskStatePending
	return t, nil
}

func (m *mockHarvestService) CancelPending(ctx context.Context, url string) (int, error) {
	m.cancelled = append(m.cancelled, url)
	return 1, nil
}

func (m *mockHarvestService) LookupByURL(ctx context.Context, url string) (*domain.FingerprintRecord, error) {
	return m.known[url], nil
}

func (m *mockHarvestService) StartScan(root string) (domain.ScanStatus, error) {
	if root != "/downloads" {
		return domain.ScanStatus{}, fmt.Errorf("scan root %s: not a directory", root)
	}
	st := domain.ScanStatus{ID: uuid.NewString(), Root: root, Running: true}
	m.scans[st.ID] = st
	return st, nil
}

func (m *mockHarvestService) Scan(id string) (domain.ScanStatus, error) {
	st, ok := m.scans[id]
	if !ok {
		return domain.ScanStatus{}, apperr.ErrScanNotFound
	}
	return st, nil
}

func (m *mockHarvestService) ClearIndex(ctx context.Context) error {
	m.cleared = true
	return nil
}

func (m *mockHarvestService) Statistics(ctx context.Context) (domain.Statistics, error) {
	return domain.Statistics{
		Index: domain.IndexStats{Records: len(m.known)},
		Queue: domain.QueueStats{Pending: len(m.tasks)},
	}, nil
}

func (m *mockHarvestService) Activity() []domain.StatusEvent {
	return []domain.StatusEvent{{Type: domain.EventCompleted, TaskID: 1}}
}

func newTestServer(t *testing.T, svc *mockHarvestService) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	server := httptest.NewServer(NewRouter(svc, logger))
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			reader = strings.NewReader(s)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var data map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&data)
	return resp, data
}

func TestTaskHandler_EnqueueTask(t *testing.T) {
	svc := newMockService()
	svc.known["https://example.com/known.jpg"] = &domain.FingerprintRecord{FilePath: "/downloads/known.jpg"}
	server := newTestServer(t, svc)

	resp, data := do(t, http.MethodPost, server.URL+"/tasks", domain.EnqueueTaskRequest{URL: "https://example.com/a.jpg", Destination: "pics"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, data["created"])
	assert.Contains(t, data, "task")

	resp, data = do(t, http.MethodPost, server.URL+"/tasks", domain.EnqueueTaskRequest{URL: "https://example.com/a.jpg", Destination: "pics"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, data["created"])

	resp, data = do(t, http.MethodPost, server.URL+"/tasks", domain.EnqueueTaskRequest{URL: "https://example.com/known.jpg"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, data["already_downloaded"])
	assert.Contains(t, data, "record")
}

func TestTaskHandler_EnqueueTask_Invalid(t *testing.T) {
	svc := newMockService()
	server := newTestServer(t, svc)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"missing url", domain.EnqueueTaskRequest{}},
		{"private host", domain.EnqueueTaskRequest{URL: "http://192.168.0.1/a.jpg"}},
		{"bad scheme", domain.EnqueueTaskRequest{URL: "ftp://example.com/a.jpg"}},
		{"escaping destination", domain.EnqueueTaskRequest{URL: "https://example.com/a.jpg", Destination: "../etc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := do(t, http.MethodPost, server.URL+"/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, data, "error")
		})
	}
	assert.Empty(t, svc.enqueued)
}

func TestTaskHandler_GetListRetryCancel(t *testing.T) {
	svc := newMockService()
	svc.tasks[1] = &domain.QueueTask{ID: 1, URL: "https://example.com/a.jpg", State: domain.TaskStateFailed}
	svc.tasks[2] = &domain.QueueTask{ID: 2, URL: "https://example.com/b.jpg", State: domain.TaskStatePending}
	svc.nextID = 3
	server := newTestServer(t, svc)

	resp, data := do(t, http.MethodGet, server.URL+"/tasks/1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", data["state"])

	resp, _ = do(t, http.MethodGet, server.URL+"/tasks/99", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = do(t, http.MethodGet, server.URL+"/tasks?state=pending", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, data["tasks"], 1)

	resp, _ = do(t, http.MethodGet, server.URL+"/tasks?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = do(t, http.MethodPost, server.URL+"/tasks/1/retry", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", data["state"])

	resp, _ = do(t, http.MethodPost, server.URL+"/tasks/2/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, data = do(t, http.MethodDelete, server.URL+"/tasks?url=https://example.com/b.jpg", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), data["cancelled"])
	assert.Equal(t, []string{"https://example.com/b.jpg"}, svc.cancelled)

	resp, _ = do(t, http.MethodDelete, server.URL+"/tasks", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFingerprintHandler_Lookup(t *testing.T) {
	svc := newMockService()
	svc.known["https://example.com/a.jpg"] = &domain.FingerprintRecord{ContentHash: "abc", FilePath: "/downloads/a.jpg"}
	server := newTestServer(t, svc)

	resp, data := do(t, http.MethodGet, server.URL+"/fingerprints/lookup?url=https://example.com/a.jpg", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/downloads/a.jpg", data["file_path"])

	resp, _ = do(t, http.MethodGet, server.URL+"/fingerprints/lookup?url=https://example.com/none.jpg", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/fingerprints/lookup", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFingerprintHandler_Scans(t *testing.T) {
	svc := newMockService()
	server := newTestServer(t, svc)

	resp, data := do(t, http.MethodPost, server.URL+"/fingerprints/scans", domain.StartScanRequest{Root: "/downloads"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	scanID, _ := data["scan_id"].(string)
	require.NotEmpty(t, scanID)

	resp, data = do(t, http.MethodGet, server.URL+"/fingerprints/scans/"+scanID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/downloads", data["root"])

	resp, _ = do(t, http.MethodGet, server.URL+"/fingerprints/scans/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/fingerprints/scans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/fingerprints/scans", domain.StartScanRequest{Root: "/missing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, server.URL+"/fingerprints/scans", domain.StartScanRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFingerprintHandler_ClearRequiresConfirm(t *testing.T) {
	svc := newMockService()
	server := newTestServer(t, svc)

	resp, _ := do(t, http.MethodDelete, server.URL+"/fingerprints", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, svc.cleared)

	resp, _ = do(t, http.MethodDelete, server.URL+"/fingerprints?confirm=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, svc.cleared)
}

func TestRouter_StatsActivityHealthMetrics(t *testing.T) {
	svc := newMockService()
	server := newTestServer(t, svc)

	resp, data := do(t, http.MethodGet, server.URL+"/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, data, "index")
	assert.Contains(t, data, "queue")

	resp, data = do(t, http.MethodGet, server.URL+"/activity", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, data["events"], 1)

	resp, data = do(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", data["status"])

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrTaskNotFound, http.StatusNotFound},
		{apperr.ErrScanNotFound, http.StatusNotFound},
		{apperr.ErrInvalidTransition, http.StatusConflict},
		{apperr.ErrQueueClosed, http.StatusServiceUnavailable},
		{&apperr.PersistenceWriteError{Op: "enqueue", Err: io.ErrShortWrite}, http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeServiceError(w, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
