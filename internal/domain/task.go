package domain

import (
	"time"
)

// TaskState represents the lifecycle state of a QueueTask.
type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

// Valid reports whether s is one of the known states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateInProgress, TaskStateCompleted, TaskStateFailed:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Live reports whether a task in s blocks an equivalent enqueue.
func (s TaskState) Live() bool {
	return s == TaskStatePending || s == TaskStateInProgress
}

// QueueTask is a single download request tracked by the work queue.
type QueueTask struct {
	ID            int64             `json:"id"`
	URL           string            `json:"url"`
	Destination   string            `json:"destination"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	State         TaskState         `json:"state"`
	AttemptCount  int               `json:"attempt_count"`
	LastError     string            `json:"last_error,omitempty"`
	FilePath      string            `json:"file_path,omitempty"`
	ContentHash   string            `json:"content_hash,omitempty"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	NextAttemptAt time.Time         `json:"next_attempt_at,omitempty"`
}

// Clone returns a deep copy so callers never share the queue's own record.
func (t *QueueTask) Clone() *QueueTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// QueueStats counts tasks per state.
type QueueStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of tasks the queue holds.
func (s QueueStats) Total() int {
	return s.Pending + s.InProgress + s.Completed + s.Failed
}

// EventType classifies a StatusEvent.
type EventType string

const (
	EventDispatched              EventType = "dispatched"
	EventSkippedDuplicateURL     EventType = "skipped_duplicate_url"
	EventSkippedDuplicateContent EventType = "skipped_duplicate_content"
	EventCompleted               EventType = "completed"
	EventRetryScheduled          EventType = "retry_scheduled"
	EventFailed                  EventType = "failed"
	EventPersistenceError        EventType = "persistence_error"
)

// StatusEvent is emitted by workers for presentation layers to consume.
type StatusEvent struct {
	Type    EventType `json:"type"`
	TaskID  int64     `json:"task_id"`
	URL     string    `json:"url"`
	State   TaskState `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
