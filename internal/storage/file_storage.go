package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	apperr "github.com/veranemoloko/media-harvester/internal/errors"
)

const (
	defaultFilename = "download"
	tmpSuffix       = ".tmp"
)

// FileStorage writes downloaded files below a root directory. It is safe
// for concurrent use.
type FileStorage struct {
	fs   afero.Fs
	root string

	// claimMu serialises picking a free name and renaming onto it.
	claimMu sync.Mutex
}

// NewFileStorage creates a new FileStorage rooted at dir.
func NewFileStorage(fs afero.Fs, dir string) *FileStorage {
	return &FileStorage{fs: fs, root: filepath.Clean(dir)}
}

// Root returns the storage root directory.
func (s *FileStorage) Root() string {
	return s.root
}

// Fs returns the underlying filesystem.
func (s *FileStorage) Fs() afero.Fs {
	return s.fs
}

// Save writes data as name inside destination and returns the final path.
// The data goes to a uniquely named temporary file which is synced and then
// renamed onto a name claimed exclusively, so a crash never leaves a partial
// file under the final name and concurrent saves never share a file. When
// name is taken a numeric suffix is added.
func (s *FileStorage) Save(destination, name string, data []byte) (string, error) {
	dir, err := s.resolve(destination)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	name = SanitizeFilename(name)
	if name == "" {
		name = defaultFilename
	}

	out, err := afero.TempFile(s.fs, dir, name+"-*"+tmpSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := out.Name()

	_, writeErr := out.Write(data)
	syncErr := out.Sync()
	closeErr := out.Close()
	chmodErr := s.fs.Chmod(tmp, 0o644)
	if err := errors.Join(writeErr, syncErr, closeErr, chmodErr); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("write file: %w", err)
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	dst, err := s.claim(dir, name)
	if err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		_ = s.fs.Remove(dst)
		return "", fmt.Errorf("rename tmp->final: %w", err)
	}
	return dst, nil
}

// FileExists checks whether path exists.
func (s *FileStorage) FileExists(path string) bool {
	_, err := s.fs.Stat(path)
	return err == nil
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(path string) (int64, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FileStorage) resolve(destination string) (string, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(destination))
	if !inside(s.root, dir) {
		return "", fmt.Errorf("destination %q: %w", destination, apperr.ErrOutsideRoot)
	}
	return dir, nil
}

// Within returns p as a path below the storage root. A relative p is taken
// relative to the root; an absolute p must already lie inside it.
func (s *FileStorage) Within(p string) (string, error) {
	if p == "" {
		return s.root, nil
	}
	target := filepath.Clean(p)
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.root, target)
	}

	root := s.root
	if filepath.IsAbs(target) != filepath.IsAbs(root) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		absTarget, err := filepath.Abs(target)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		root, target = absRoot, absTarget
	}

	if !inside(root, target) {
		return "", fmt.Errorf("%s: %w", p, apperr.ErrOutsideRoot)
	}
	return target, nil
}

func inside(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// claim reserves the first free name among name, base_1.ext, base_2.ext...
// by creating it exclusively. The empty placeholder is replaced by rename.
func (s *FileStorage) claim(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		f, err := s.fs.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", fmt.Errorf("claim %s: %w", candidate, err)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("claim %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// SanitizeFilename replaces characters that are invalid in file names.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

// BuildSubfolder returns the relative folder for a source. Reddit users and
// subreddits get a folder named after the identifier; websites, twitter and
// onlyfans sources are grouped under a folder per type. Unknown types fall
// back to the identifier.
func BuildSubfolder(sourceType, identifier string) string {
	ident := SanitizeFilename(identifier)
	switch strings.ToLower(sourceType) {
	case "reddit_user", "reddit", "subreddit", "reddit_sub":
		return ident
	case "website", "site":
		return path.Join("website", ident)
	case "twitter", "x":
		return path.Join("twitter", ident)
	case "onlyfans", "of":
		return path.Join("onlyfans", ident)
	default:
		return ident
	}
}

// FilenameFromURL derives a file name from the last path segment of rawURL.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFilename
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	switch name {
	case "", ".", "/", "..":
		return defaultFilename
	}
	return SanitizeFilename(name)
}
