package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/veranemoloko/media-harvester/internal/domain"
	apperr "github.com/veranemoloko/media-harvester/internal/errors"
	"github.com/veranemoloko/media-harvester/internal/fingerprint"
	"github.com/veranemoloko/media-harvester/internal/metrics"
	"github.com/veranemoloko/media-harvester/internal/queue"
	"github.com/veranemoloko/media-harvester/internal/storage"
	"github.com/veranemoloko/media-harvester/internal/watcher"
	"github.com/veranemoloko/media-harvester/internal/worker"
)

const defaultDestination = "misc"

// Options configure the background parts of HarvestService.
type Options struct {
	ActivitySize   int
	Watch          bool
	WatchDebounce  time.Duration
	RescanSchedule string
	AuditSchedule  string
}

// HarvestService ties the fingerprint index, the work queue and the worker
// pool together. One instance is built at startup and shared by the HTTP
// layer.
type HarvestService struct {
	index  *fingerprint.Index
	queue  *queue.Queue
	files  *storage.FileStorage
	pool   *worker.Pool
	opts   Options
	logger *slog.Logger

	activity *activityLog

	// scans run on ctx so they outlive the request that started them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scansMu sync.Mutex
	scans   map[string]*domain.ScanStatus
}

// NewHarvestService creates the service. Run starts the background work.
func NewHarvestService(
	index *fingerprint.Index,
	q *queue.Queue,
	files *storage.FileStorage,
	pool *worker.Pool,
	opts Options,
	logger *slog.Logger,
) *HarvestService {
	if opts.ActivitySize < 1 {
		opts.ActivitySize = 200
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HarvestService{
		index:    index,
		queue:    q,
		files:    files,
		pool:     pool,
		opts:     opts,
		logger:   logger,
		activity: newActivityLog(opts.ActivitySize),
		ctx:      ctx,
		cancel:   cancel,
		scans:    make(map[string]*domain.ScanStatus),
	}
}

// Enqueue queues a download unless the URL is already in the index and its
// file is still on disk, in which case the known record is returned and
// nothing is queued.
func (s *HarvestService) Enqueue(ctx context.Context, req domain.EnqueueTaskRequest) (domain.EnqueueTaskResponse, error) {
	rec, err := s.index.LookupByURLOnDisk(ctx, req.URL)
	if err != nil {
		return domain.EnqueueTaskResponse{}, fmt.Errorf("lookup url: %w", err)
	}
	if rec != nil {
		metrics.DuplicatesSkipped.WithLabelValues(metrics.DuplicateURL).Inc()
		s.activity.add(domain.StatusEvent{
			Type:    domain.EventSkippedDuplicateURL,
			URL:     req.URL,
			Message: rec.FilePath,
			At:      time.Now(),
		})
		s.logger.Info("url already downloaded", "url", req.URL, "file_path", rec.FilePath)
		return domain.EnqueueTaskResponse{AlreadyDownloaded: true, Record: rec}, nil
	}

	destination := req.Destination
	if destination == "" {
		destination = destinationFor(req.Metadata)
	}

	res, err := s.queue.Enqueue(ctx, req.URL, destination, req.Metadata)
	if err != nil {
		return domain.EnqueueTaskResponse{}, err
	}
	return domain.EnqueueTaskResponse{Task: res.Task, Created: res.Created}, nil
}

func destinationFor(metadata map[string]string) string {
	if source := metadata["source"]; source != "" {
		return storage.BuildSubfolder(metadata["source_type"], source)
	}
	return defaultDestination
}

// LookupByURL returns the fingerprint record for url or nil.
func (s *HarvestService) LookupByURL(ctx context.Context, url string) (*domain.FingerprintRecord, error) {
	return s.index.LookupByURL(ctx, url)
}

// Statistics combines index and queue counters.
func (s *HarvestService) Statistics(ctx context.Context) (domain.Statistics, error) {
	idx, err := s.index.Statistics(ctx)
	if err != nil {
		return domain.Statistics{}, err
	}
	return domain.Statistics{Index: idx, Queue: s.queue.Stats()}, nil
}

// Tasks lists queue tasks, optionally filtered by state.
func (s *HarvestService) Tasks(state domain.TaskState) []*domain.QueueTask {
	return s.queue.List(state)
}

// Task returns one queue task.
func (s *HarvestService) Task(id int64) (*domain.QueueTask, error) {
	return s.queue.Get(id)
}

// RetryTask puts a failed task back into the queue.
func (s *HarvestService) RetryTask(ctx context.Context, id int64) (*domain.QueueTask, error) {
	return s.queue.Retry(ctx, id)
}

// CancelPending fails every pending task for url.
func (s *HarvestService) CancelPending(ctx context.Context, url string) (int, error) {
	return s.queue.Cancel(ctx, func(t *domain.QueueTask) bool {
		return t.URL == url
	}, "cancelled by operator")
}

// ClearIndex removes every fingerprint record.
func (s *HarvestService) ClearIndex(ctx context.Context) error {
	if err := s.index.Clear(ctx); err != nil {
		return err
	}
	s.logger.Warn("fingerprint index cleared")
	return nil
}

// Activity returns recent status events, newest first.
func (s *HarvestService) Activity() []domain.StatusEvent {
	return s.activity.list()
}

// StartScan starts an asynchronous scan of root and returns its status.
// root must lie inside the download directory; a relative root is taken
// relative to it.
func (s *HarvestService) StartScan(root string) (domain.ScanStatus, error) {
	root, err := s.files.Within(root)
	if err != nil {
		return domain.ScanStatus{}, fmt.Errorf("scan root: %w", err)
	}

	info, err := s.files.Fs().Stat(root)
	if err != nil {
		return domain.ScanStatus{}, fmt.Errorf("scan root: %w", err)
	}
	if !info.IsDir() {
		return domain.ScanStatus{}, fmt.Errorf("scan root %s: not a directory", root)
	}

	status := &domain.ScanStatus{ID: uuid.NewString(), Root: root, Running: true}

	s.scansMu.Lock()
	s.scans[status.ID] = status
	snapshot := *status
	s.scansMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runScan(status.ID, root)
	}()

	return snapshot, nil
}

func (s *HarvestService) runScan(id, root string) {
	logger := s.logger.With("scan_id", id, "root", root)
	logger.Info("scan started")

	res, err := s.index.ScanDirectory(s.ctx, root, func(p fingerprint.ScanProgress) {
		s.scansMu.Lock()
		defer s.scansMu.Unlock()
		if st, ok := s.scans[id]; ok {
			st.Files = p.Files
			st.Failed = p.Failed
		}
	})

	s.scansMu.Lock()
	st := s.scans[id]
	st.Running = false
	st.Files = res.Files
	st.NewRecords = res.NewRecords
	st.Failed = res.Failed
	if err != nil {
		st.Error = err.Error()
	}
	s.scansMu.Unlock()

	if err != nil {
		logger.Error("scan failed", "error", err)
		return
	}
	logger.Info("scan finished", "files", res.Files, "new_records", res.NewRecords, "failed", res.Failed)
}

// Scan reports the state of a scan started with StartScan.
func (s *HarvestService) Scan(id string) (domain.ScanStatus, error) {
	s.scansMu.Lock()
	defer s.scansMu.Unlock()

	st, ok := s.scans[id]
	if !ok {
		return domain.ScanStatus{}, fmt.Errorf("scan %s: %w", id, apperr.ErrScanNotFound)
	}
	return *st, nil
}

// Run resumes interrupted tasks and runs the worker pool with the activity
// consumer, the optional directory watcher and scheduled maintenance. It
// returns once ctx is cancelled and the pool has drained.
func (s *HarvestService) Run(ctx context.Context) error {
	resumed, err := s.queue.ResumePending(ctx)
	if err != nil {
		return fmt.Errorf("resume pending tasks: %w", err)
	}
	if len(resumed) > 0 {
		s.logger.Info("resuming interrupted tasks", "tasks_count", len(resumed))
	}

	scheduler, err := s.schedule()
	if err != nil {
		return err
	}

	var w *watcher.Watcher
	if s.opts.Watch {
		if w, err = watcher.New(s.files.Root(), s.opts.WatchDebounce, s.logger); err != nil {
			return err
		}
	}

	var bg sync.WaitGroup

	bg.Add(1)
	go func() {
		defer bg.Done()
		for ev := range s.pool.Events() {
			s.activity.add(ev)
		}
	}()

	if w != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := w.Run(ctx, s.registerWatched); err != nil {
				s.logger.Error("directory watcher stopped", "error", err)
			}
		}()
	}

	scheduler.Start()

	runErr := s.pool.Run(ctx)

	<-scheduler.Stop().Done()
	bg.Wait()
	return runErr
}

func (s *HarvestService) registerWatched(path string) {
	created, err := s.index.RegisterFile(s.ctx, path, "", nil)
	if err != nil {
		s.logger.Warn("failed to register watched file", "path", path, "error", err)
		return
	}
	if created {
		s.logger.Info("new file registered", "path", path)
	}
}

func (s *HarvestService) schedule() (*cron.Cron, error) {
	c := cron.New()

	if expr := s.opts.RescanSchedule; expr != "" {
		if _, err := c.AddFunc(expr, s.rescan); err != nil {
			return nil, fmt.Errorf("rescan schedule: %w", err)
		}
		s.logger.Info("scheduled rescan", "schedule", expr)
	}

	if expr := s.opts.AuditSchedule; expr != "" {
		if _, err := c.AddFunc(expr, s.audit); err != nil {
			return nil, fmt.Errorf("audit schedule: %w", err)
		}
		s.logger.Info("scheduled missing-file audit", "schedule", expr)
	}

	return c, nil
}

func (s *HarvestService) rescan() {
	start := time.Now()
	res, err := s.index.ScanDirectory(s.ctx, s.files.Root(), nil)
	if err != nil {
		s.logger.Error("scheduled rescan failed", "error", err)
		return
	}
	s.logger.Info("scheduled rescan finished",
		"files", res.Files,
		"new_records", res.NewRecords,
		"failed", res.Failed,
		"duration", time.Since(start),
	)
}

func (s *HarvestService) audit() {
	missing, err := s.index.VerifyFilesExist(s.ctx)
	if err != nil {
		s.logger.Error("missing-file audit failed", "error", err)
		return
	}
	if missing > 0 {
		s.logger.Warn("indexed files missing on disk", "missing", missing)
		return
	}
	s.logger.Info("missing-file audit passed")
}

// Close stops running scans and waits for them.
func (s *HarvestService) Close() {
	s.cancel()
	s.wg.Wait()
}
