package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// FingerprintRecord associates a content hash with the URLs it came from and
// the last place it was seen on disk.
type FingerprintRecord struct {
	ContentHash     string            `json:"content_hash"`
	SourceURLHashes []string          `json:"source_url_hashes,omitempty"`
	FilePath        string            `json:"file_path"`
	SizeBytes       int64             `json:"size_bytes"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IndexStats summarises the fingerprint index.
type IndexStats struct {
	Records    int   `json:"records"`
	URLHashes  int   `json:"url_hashes"`
	TotalBytes int64 `json:"total_bytes"`
	Videos     int   `json:"videos"`
	Images     int   `json:"images"`
	Other      int   `json:"other"`
}

// Statistics is the combined status snapshot exposed to collaborators.
type Statistics struct {
	Index IndexStats `json:"index"`
	Queue QueueStats `json:"queue"`
}

// MediaKind is a coarse classification by file extension.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
	MediaOther MediaKind = "other"
)

var (
	videoExtensions = map[string]struct{}{
		".mp4": {}, ".webm": {}, ".mov": {}, ".avi": {}, ".mkv": {},
		".flv": {}, ".wmv": {}, ".m4v": {}, ".mpg": {}, ".mpeg": {},
	}
	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {},
		".webp": {}, ".tiff": {}, ".svg": {},
	}
)

// KindOf classifies path by its extension.
func KindOf(path string) MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; ok {
		return MediaVideo
	}
	if _, ok := imageExtensions[ext]; ok {
		return MediaImage
	}
	return MediaOther
}
