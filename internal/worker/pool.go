// Package worker drains the work queue: it fetches media, skips known
// content and records results in the fingerprint index.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/media-harvester/internal/domain"
	apperr "github.com/veranemoloko/media-harvester/internal/errors"
	"github.com/veranemoloko/media-harvester/internal/fetch"
	"github.com/veranemoloko/media-harvester/internal/fingerprint"
	"github.com/veranemoloko/media-harvester/internal/metrics"
	"github.com/veranemoloko/media-harvester/internal/queue"
	"github.com/veranemoloko/media-harvester/internal/storage"
)

// Config sizes the pool.
type Config struct {
	Workers      int
	PollInterval time.Duration
	// FetchTimeout bounds the work on one task, including writes after a
	// stop was requested.
	FetchTimeout time.Duration
	EventBuffer  int
}

// Pool runs queue workers.
type Pool struct {
	queue   *queue.Queue
	index   *fingerprint.Index
	fetcher fetch.Fetcher
	files   *storage.FileStorage
	cfg     Config
	logger  *slog.Logger

	events chan domain.StatusEvent
}

// NewPool creates a pool. Run starts it.
func NewPool(
	q *queue.Queue,
	index *fingerprint.Index,
	fetcher fetch.Fetcher,
	files *storage.FileStorage,
	cfg Config,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Minute
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 100
	}

	return &Pool{
		queue:   q,
		index:   index,
		fetcher: fetcher,
		files:   files,
		cfg:     cfg,
		logger:  logger,
		events:  make(chan domain.StatusEvent, cfg.EventBuffer),
	}
}

// Events returns the status event stream. It is closed when Run returns.
func (p *Pool) Events() <-chan domain.StatusEvent {
	return p.events
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight task has been recorded.
func (p *Pool) Run(ctx context.Context) error {
	defer close(p.events)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i + 1
		g.Go(func() error {
			return p.loop(ctx, id)
		})
	}

	p.logger.Info("worker pool started", "workers", p.cfg.Workers)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, workerID int) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	logger := p.logger.With("worker_id", workerID)

	for {
		if ctx.Err() != nil {
			return nil
		}

		wake := p.queue.Notify()
		task, err := p.queue.DequeueNext(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, apperr.ErrQueueClosed) {
				return nil
			}
			logger.Error("dequeue failed", "error", err)
			p.emit(domain.StatusEvent{Type: domain.EventPersistenceError, Message: err.Error()})
		}

		if task == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
			case <-ticker.C:
			}
			continue
		}

		p.process(ctx, task)
	}
}

// process handles one dequeued task. The work runs on a context detached
// from stop so a shutdown never interrupts a write; FetchTimeout bounds it.
func (p *Pool) process(stop context.Context, task *domain.QueueTask) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(stop), p.cfg.FetchTimeout)
	defer cancel()

	p.emit(domain.StatusEvent{Type: domain.EventDispatched, TaskID: task.ID, URL: task.URL, State: task.State})

	rec, err := p.index.LookupByURLOnDisk(ctx, task.URL)
	if err != nil {
		p.fail(ctx, task, fmt.Errorf("lookup url: %w", err))
		return
	}
	if rec != nil {
		metrics.DuplicatesSkipped.WithLabelValues(metrics.DuplicateURL).Inc()
		p.complete(ctx, task, rec.FilePath, rec.ContentHash, domain.EventSkippedDuplicateURL)
		return
	}

	data, err := p.fetcher.Fetch(ctx, task.URL)
	if err != nil {
		p.fail(ctx, task, err)
		return
	}

	sum := fingerprint.HashBytes(data)
	urlHash := fingerprint.HashURL(task.URL)

	existing, err := p.index.LookupByHash(ctx, sum)
	if err != nil {
		p.fail(ctx, task, fmt.Errorf("lookup content: %w", err))
		return
	}
	if existing != nil && p.index.OnDisk(existing) {
		if _, err := p.index.Register(ctx, fingerprint.RegisterParams{
			ContentHash:   sum,
			SourceURLHash: urlHash,
			Path:          existing.FilePath,
			Size:          existing.SizeBytes,
			Metadata:      task.Metadata,
		}); err != nil {
			p.fail(ctx, task, err)
			return
		}
		metrics.DuplicatesSkipped.WithLabelValues(metrics.DuplicateContent).Inc()
		p.complete(ctx, task, existing.FilePath, sum, domain.EventSkippedDuplicateContent)
		return
	}

	path, err := p.files.Save(task.Destination, storage.FilenameFromURL(task.URL), data)
	if err != nil {
		p.fail(ctx, task, fmt.Errorf("save file: %w", err))
		return
	}

	if _, err := p.index.Register(ctx, fingerprint.RegisterParams{
		ContentHash:   sum,
		SourceURLHash: urlHash,
		Path:          path,
		Size:          int64(len(data)),
		Metadata:      task.Metadata,
	}); err != nil {
		if rmErr := p.files.Fs().Remove(path); rmErr != nil {
			p.logger.Warn("failed to remove unregistered file", "file_path", path, "error", rmErr)
		}
		p.fail(ctx, task, err)
		return
	}

	p.complete(ctx, task, path, sum, domain.EventCompleted)
}

func (p *Pool) complete(ctx context.Context, task *domain.QueueTask, path, sum string, event domain.EventType) {
	err := p.queue.MarkCompleted(ctx, task.ID, queue.CompletionInfo{FilePath: path, ContentHash: sum})
	if err != nil {
		p.persistenceError(task, err)
		return
	}
	p.emit(domain.StatusEvent{
		Type:    event,
		TaskID:  task.ID,
		URL:     task.URL,
		State:   domain.TaskStateCompleted,
		Message: path,
	})
}

func (p *Pool) fail(ctx context.Context, task *domain.QueueTask, cause error) {
	state, err := p.queue.MarkFailed(ctx, task.ID, cause)
	if err != nil {
		p.persistenceError(task, err)
		return
	}

	event := domain.EventRetryScheduled
	if state == domain.TaskStateFailed {
		event = domain.EventFailed
	}
	p.emit(domain.StatusEvent{
		Type:    event,
		TaskID:  task.ID,
		URL:     task.URL,
		State:   state,
		Message: cause.Error(),
	})
}

func (p *Pool) persistenceError(task *domain.QueueTask, err error) {
	p.logger.Error("failed to record task result",
		"task_id", task.ID,
		"url", task.URL,
		"error", err,
	)
	p.emit(domain.StatusEvent{
		Type:    domain.EventPersistenceError,
		TaskID:  task.ID,
		URL:     task.URL,
		Message: err.Error(),
	})
}

func (p *Pool) emit(ev domain.StatusEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Debug("status event dropped", "type", ev.Type, "task_id", ev.TaskID)
	}
}
