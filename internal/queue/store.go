package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/veranemoloko/media-harvester/internal/domain"
)

// Snapshot is the persisted form of the queue.
type Snapshot struct {
	NextID int64               `json:"next_id"`
	Tasks  []*domain.QueueTask `json:"tasks"`
}

// Store loads and saves queue snapshots.
type Store interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
}

// FileStore keeps the snapshot in a JSON file replaced atomically on save.
type FileStore struct {
	file   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore for filePath.
func NewFileStore(filePath string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{file: filepath.Clean(filePath), logger: logger}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.file
}

// Load reads the snapshot. A missing or empty file yields an empty queue.
// A corrupt file is moved to <file>.bak and an empty queue is returned.
func (s *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("queue state file does not exist, starting with empty queue", "file_path", s.file)
		return &Snapshot{NextID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue state file: %w", err)
	}

	if len(data) == 0 {
		s.logger.Warn("queue state file is empty", "file_path", s.file)
		return &Snapshot{NextID: 1}, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		backup := s.file + ".bak"
		if renameErr := os.Rename(s.file, backup); renameErr != nil {
			return nil, fmt.Errorf("queue state file is corrupt and could not be moved aside: %w", errors.Join(err, renameErr))
		}
		s.logger.Error("queue state file is corrupt, moved aside",
			"file_path", s.file,
			"backup", backup,
			"error", err,
		)
		return &Snapshot{NextID: 1}, nil
	}

	if snap.NextID < 1 {
		snap.NextID = 1
	}
	for _, t := range snap.Tasks {
		if t.ID >= snap.NextID {
			snap.NextID = t.ID + 1
		}
	}

	s.logger.Info("queue state loaded", "tasks_count", len(snap.Tasks), "file_path", s.file)
	return &snap, nil
}

// Save writes the snapshot to a temporary file, syncs it and renames it over
// the state file so readers never observe a partial write.
func (s *FileStore) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile := s.file + ".tmp"
	f, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temporary file: %w", err)
	}

	_, writeErr := f.Write(data)
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, s.file); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	s.logger.Debug("queue state saved", "tasks_count", len(snap.Tasks), "file_path", s.file)
	return nil
}
