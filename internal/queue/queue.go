// Package queue implements the durable FIFO work queue of download tasks.
//
// Every state transition is persisted before the call returns. If the write
// fails the transition is rolled back in memory and a PersistenceWriteError is
// returned, so callers never observe state the store does not hold.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veranemoloko/media-harvester/internal/domain"
	apperr "github.com/veranemoloko/media-harvester/internal/errors"
	"github.com/veranemoloko/media-harvester/internal/metrics"
)

const maxErrorLen = 500

// Options tune retry behaviour.
type Options struct {
	// MaxAttempts is the retry ceiling; a task that fails this many times
	// becomes failed.
	MaxAttempts int
	// BackoffBase is the delay after the first failure, doubled per attempt.
	BackoffBase time.Duration
	// BackoffMax caps the delay.
	BackoffMax time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns the defaults used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

// EnqueueResult reports the task an enqueue resolved to.
type EnqueueResult struct {
	Task    *domain.QueueTask
	Created bool
}

// CompletionInfo is recorded on a completed task.
type CompletionInfo struct {
	FilePath    string
	ContentHash string
}

// Queue is the durable work queue. It is the only writer of its store.
type Queue struct {
	mu     sync.Mutex
	store  Store
	opts   Options
	logger *slog.Logger

	tasks  map[int64]*domain.QueueTask
	nextID int64
	closed bool

	wake chan struct{}
}

// New loads the queue from store.
func New(store Store, opts Options, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	q := &Queue{
		store:  store,
		opts:   opts,
		logger: logger,
		tasks:  make(map[int64]*domain.QueueTask, len(snap.Tasks)),
		nextID: snap.NextID,
		wake:   make(chan struct{}),
	}
	for _, t := range snap.Tasks {
		q.tasks[t.ID] = t
	}

	logger.Info("work queue initialized", "tasks_count", len(q.tasks), "next_id", q.nextID)
	return q, nil
}

// Notify returns a channel closed the next time work becomes available.
func (q *Queue) Notify() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wake
}

func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Close rejects further enqueues and dequeues and wakes any waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked()
}

// Enqueue appends a pending task. When a pending or in-progress task with
// the same url and destination exists, that task is returned instead.
func (q *Queue) Enqueue(ctx context.Context, url, destination string, metadata map[string]string) (EnqueueResult, error) {
	if err := ctx.Err(); err != nil {
		return EnqueueResult{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return EnqueueResult{}, apperr.ErrQueueClosed
	}

	for _, t := range q.tasks {
		if t.State.Live() && t.URL == url && t.Destination == destination {
			q.logger.Debug("duplicate enqueue ignored", "task_id", t.ID, "url", url)
			return EnqueueResult{Task: t.Clone()}, nil
		}
	}

	now := q.opts.Now()
	task := &domain.QueueTask{
		ID:          q.nextID,
		URL:         url,
		Destination: destination,
		Metadata:    copyMetadata(metadata),
		State:       domain.TaskStatePending,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
	q.tasks[task.ID] = task
	q.nextID++

	if err := q.persistLocked("enqueue", func() {
		delete(q.tasks, task.ID)
		q.nextID--
	}); err != nil {
		return EnqueueResult{}, err
	}

	metrics.TasksEnqueued.Inc()
	q.signalLocked()
	q.logger.Info("task enqueued", "task_id", task.ID, "url", url, "destination", destination)
	return EnqueueResult{Task: task.Clone(), Created: true}, nil
}

// DequeueNext moves the oldest eligible pending task to in_progress and
// returns a copy of it. It returns nil when nothing is eligible.
func (q *Queue) DequeueNext(ctx context.Context) (*domain.QueueTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, apperr.ErrQueueClosed
	}

	now := q.opts.Now()
	var next *domain.QueueTask
	for _, t := range q.tasks {
		if t.State != domain.TaskStatePending {
			continue
		}
		if !t.NextAttemptAt.IsZero() && t.NextAttemptAt.After(now) {
			continue
		}
		if next == nil || older(t, next) {
			next = t
		}
	}
	if next == nil {
		return nil, nil
	}

	prev := next.Clone()
	next.State = domain.TaskStateInProgress
	next.UpdatedAt = now

	if err := q.persistLocked("dequeue", func() { q.tasks[prev.ID] = prev }); err != nil {
		return nil, err
	}

	q.logger.Debug("task dispatched", "task_id", next.ID, "url", next.URL, "attempt", next.AttemptCount+1)
	return next.Clone(), nil
}

// MarkCompleted moves an in-progress task to completed.
func (q *Queue) MarkCompleted(ctx context.Context, id int64, info CompletionInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.inProgressLocked(id, domain.TaskStateCompleted)
	if err != nil {
		return err
	}

	prev := task.Clone()
	task.State = domain.TaskStateCompleted
	task.LastError = ""
	task.NextAttemptAt = time.Time{}
	task.FilePath = info.FilePath
	task.ContentHash = info.ContentHash
	task.UpdatedAt = q.opts.Now()

	if err := q.persistLocked("mark completed", func() { q.tasks[id] = prev }); err != nil {
		return err
	}

	metrics.TasksCompleted.Inc()
	q.logger.Info("task completed", "task_id", id, "url", task.URL, "file_path", info.FilePath)
	return nil
}

// MarkFailed records a failed attempt. Below the retry ceiling the task goes
// back to pending after a backoff delay; at the ceiling it becomes failed.
// It returns the resulting state.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) (domain.TaskState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.inProgressLocked(id, domain.TaskStatePending)
	if err != nil {
		return "", err
	}

	prev := task.Clone()
	now := q.opts.Now()
	task.AttemptCount++
	task.LastError = truncateError(cause)
	task.UpdatedAt = now

	if task.AttemptCount >= q.opts.MaxAttempts {
		task.State = domain.TaskStateFailed
		task.NextAttemptAt = time.Time{}
	} else {
		task.State = domain.TaskStatePending
		task.NextAttemptAt = now.Add(q.backoff(task.AttemptCount))
	}

	if err := q.persistLocked("mark failed", func() { q.tasks[id] = prev }); err != nil {
		return "", err
	}

	if task.State == domain.TaskStateFailed {
		metrics.TasksFailed.Inc()
		q.logger.Error("task failed permanently",
			"task_id", id,
			"url", task.URL,
			"attempts", task.AttemptCount,
			"error", task.LastError,
		)
	} else {
		metrics.TasksRetried.Inc()
		q.signalLocked()
		q.logger.Warn("task attempt failed, retry scheduled",
			"task_id", id,
			"url", task.URL,
			"attempts", task.AttemptCount,
			"next_attempt_at", task.NextAttemptAt,
			"error", task.LastError,
		)
	}
	return task.State, nil
}

// ResumePending resets tasks left in_progress by an earlier run to pending
// and returns them. Work interrupted by a crash is therefore retried at least
// once more; consumers must tolerate repeated downloads.
func (q *Queue) ResumePending(ctx context.Context) ([]*domain.QueueTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var prevs []*domain.QueueTask
	now := q.opts.Now()
	for _, t := range q.tasks {
		if t.State != domain.TaskStateInProgress {
			continue
		}
		prevs = append(prevs, t.Clone())
		t.State = domain.TaskStatePending
		t.UpdatedAt = now
	}
	if len(prevs) == 0 {
		return nil, nil
	}

	if err := q.persistLocked("resume pending", func() {
		for _, p := range prevs {
			q.tasks[p.ID] = p
		}
	}); err != nil {
		return nil, err
	}

	resumed := make([]*domain.QueueTask, 0, len(prevs))
	for _, p := range prevs {
		resumed = append(resumed, q.tasks[p.ID].Clone())
	}
	sortTasks(resumed)

	q.signalLocked()
	q.logger.Info("interrupted tasks resumed", "tasks_count", len(resumed))
	return resumed, nil
}

// Retry moves a failed task back to pending. The attempt count is kept.
func (q *Queue) Retry(ctx context.Context, id int64) (*domain.QueueTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, apperr.ErrTaskNotFound)
	}
	if task.State != domain.TaskStateFailed {
		return nil, fmt.Errorf("task %d %s -> %s: %w", id, task.State, domain.TaskStatePending, apperr.ErrInvalidTransition)
	}

	prev := task.Clone()
	task.State = domain.TaskStatePending
	task.NextAttemptAt = time.Time{}
	task.UpdatedAt = q.opts.Now()

	if err := q.persistLocked("retry", func() { q.tasks[id] = prev }); err != nil {
		return nil, err
	}

	q.signalLocked()
	q.logger.Info("task requeued by operator", "task_id", id, "attempts", task.AttemptCount)
	return task.Clone(), nil
}

// Cancel fails every pending task matching match with reason as last error
// and returns how many were cancelled.
func (q *Queue) Cancel(ctx context.Context, match func(*domain.QueueTask) bool, reason string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var prevs []*domain.QueueTask
	now := q.opts.Now()
	for _, t := range q.tasks {
		if t.State != domain.TaskStatePending || !match(t.Clone()) {
			continue
		}
		prevs = append(prevs, t.Clone())
		t.State = domain.TaskStateFailed
		t.LastError = reason
		t.NextAttemptAt = time.Time{}
		t.UpdatedAt = now
	}
	if len(prevs) == 0 {
		return 0, nil
	}

	if err := q.persistLocked("cancel", func() {
		for _, p := range prevs {
			q.tasks[p.ID] = p
		}
	}); err != nil {
		return 0, err
	}

	q.logger.Info("pending tasks cancelled", "tasks_count", len(prevs), "reason", reason)
	return len(prevs), nil
}

// PurgeFinished removes completed and failed tasks and returns how many
// were removed.
func (q *Queue) PurgeFinished(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*domain.QueueTask
	for id, t := range q.tasks {
		if t.State.Terminal() {
			removed = append(removed, t)
			delete(q.tasks, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := q.persistLocked("purge finished", func() {
		for _, t := range removed {
			q.tasks[t.ID] = t
		}
	}); err != nil {
		return 0, err
	}

	q.logger.Info("finished tasks purged", "tasks_count", len(removed))
	return len(removed), nil
}

// Get returns a copy of the task with id.
func (q *Queue) Get(id int64) (*domain.QueueTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, apperr.ErrTaskNotFound)
	}
	return task.Clone(), nil
}

// List returns copies of the tasks in state, or all tasks when state is
// empty, ordered by ID.
func (q *Queue) List(state domain.TaskState) []*domain.QueueTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]*domain.QueueTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		if state == "" || t.State == state {
			tasks = append(tasks, t.Clone())
		}
	}
	sortTasks(tasks)
	return tasks
}

// Len returns the number of tasks held, in any state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Stats counts tasks per state.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s domain.QueueStats
	for _, t := range q.tasks {
		switch t.State {
		case domain.TaskStatePending:
			s.Pending++
		case domain.TaskStateInProgress:
			s.InProgress++
		case domain.TaskStateCompleted:
			s.Completed++
		case domain.TaskStateFailed:
			s.Failed++
		}
	}
	return s
}

// MaxAttempts returns the configured retry ceiling.
func (q *Queue) MaxAttempts() int {
	return q.opts.MaxAttempts
}

func (q *Queue) inProgressLocked(id int64, to domain.TaskState) (*domain.QueueTask, error) {
	task, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, apperr.ErrTaskNotFound)
	}
	if task.State != domain.TaskStateInProgress {
		return nil, fmt.Errorf("task %d %s -> %s: %w", id, task.State, to, apperr.ErrInvalidTransition)
	}
	return task, nil
}

func (q *Queue) persistLocked(op string, undo func()) error {
	if err := q.store.Save(q.snapshotLocked()); err != nil {
		undo()
		q.logger.Error("queue persistence failed", "op", op, "error", err)
		return &apperr.PersistenceWriteError{Op: op, Err: err}
	}
	return nil
}

func (q *Queue) snapshotLocked() *Snapshot {
	tasks := make([]*domain.QueueTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return &Snapshot{NextID: q.nextID, Tasks: tasks}
}

func (q *Queue) backoff(attempt int) time.Duration {
	if q.opts.BackoffBase <= 0 || attempt < 1 {
		return 0
	}
	d := q.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if q.opts.BackoffMax > 0 && d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if q.opts.BackoffMax > 0 && d > q.opts.BackoffMax {
		return q.opts.BackoffMax
	}
	return d
}

func older(a, b *domain.QueueTask) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

func sortTasks(tasks []*domain.QueueTask) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
