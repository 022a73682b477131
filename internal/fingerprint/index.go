// Package fingerprint keeps a durable index of acquired content keyed by its
// SHA-256 digest, with a secondary lookup by source URL hash.
package fingerprint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"

	"github.com/veranemoloko/media-harvester/internal/domain"
	apperr "github.com/veranemoloko/media-harvester/internal/errors"
	"github.com/veranemoloko/media-harvester/internal/metrics"
)

// Index is the content fingerprint index backed by SQLite.
type Index struct {
	db     *sqlx.DB
	fs     afero.Fs
	logger *slog.Logger
}

// RegisterParams describes one registration.
type RegisterParams struct {
	ContentHash   string
	SourceURLHash string
	Path          string
	Size          int64
	Metadata      map[string]string
}

type fingerprintRow struct {
	ContentHash string `db:"content_hash"`
	FilePath    string `db:"file_path"`
	SizeBytes   int64  `db:"size_bytes"`
	Metadata    string `db:"metadata"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

const selectColumns = `f.content_hash, f.file_path, f.size_bytes, f.metadata, f.created_at, f.updated_at`

// Open opens or creates the index database at dbPath. Files are read through fs.
func Open(dbPath string, fs afero.Fs, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	// SQLite allows a single writer; one connection serialises all writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ix := &Index{db: db, fs: fs, logger: logger}
	if err := ix.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate index: %w", err)
	}

	logger.Info("fingerprint index opened", "db_path", dbPath)
	return ix, nil
}

func (ix *Index) migrate() error {
	for i, m := range migrations {
		if _, err := ix.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Register inserts a record or, when the content hash is already known,
// moves it to p.Path and attaches p.SourceURLHash. It reports whether a new
// record was created.
func (ix *Index) Register(ctx context.Context, p RegisterParams) (bool, error) {
	if !ValidContentHash(p.ContentHash) {
		return false, fmt.Errorf("register %q: %w", p.ContentHash, apperr.ErrInvalidHash)
	}

	meta := []byte("{}")
	if len(p.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(p.Metadata); err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	created, err := ix.upsert(ctx, p, string(meta), time.Now().UnixNano())
	if err != nil {
		return false, &apperr.PersistenceWriteError{Op: "register fingerprint", Err: err}
	}

	if created {
		metrics.FingerprintsRegistered.Inc()
	}
	ix.logger.Debug("fingerprint registered",
		"content_hash", p.ContentHash,
		"path", p.Path,
		"created", created,
	)
	return created, nil
}

func (ix *Index) upsert(ctx context.Context, p RegisterParams, meta string, now int64) (bool, error) {
	tx, err := ix.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM fingerprints WHERE content_hash = ?`, p.ContentHash); err != nil {
		return false, err
	}

	// Metadata and size are fixed by the first registration.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fingerprints (content_hash, file_path, size_bytes, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			file_path = excluded.file_path,
			updated_at = excluded.updated_at
	`, p.ContentHash, p.Path, p.Size, meta, now, now); err != nil {
		return false, err
	}

	if p.SourceURLHash != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO fingerprint_urls (url_hash, content_hash) VALUES (?, ?)`,
			p.SourceURLHash, p.ContentHash); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return existing == 0, nil
}

// RegisterFile hashes the file at path and registers it against sourceURL.
func (ix *Index) RegisterFile(ctx context.Context, path, sourceURL string, metadata map[string]string) (bool, error) {
	sum, size, err := HashFile(ix.fs, path)
	if err != nil {
		return false, err
	}

	var urlHash string
	if sourceURL != "" {
		urlHash = HashURL(sourceURL)
	}

	return ix.Register(ctx, RegisterParams{
		ContentHash:   sum,
		SourceURLHash: urlHash,
		Path:          path,
		Size:          size,
		Metadata:      metadata,
	})
}

// LookupByURL returns the record most recently registered under url, or nil.
func (ix *Index) LookupByURL(ctx context.Context, url string) (*domain.FingerprintRecord, error) {
	var row fingerprintRow
	err := ix.db.GetContext(ctx, &row, `
		SELECT `+selectColumns+`
		FROM fingerprints f
		JOIN fingerprint_urls u ON u.content_hash = f.content_hash
		WHERE u.url_hash = ?
		ORDER BY f.updated_at DESC
		LIMIT 1
	`, HashURL(url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up url: %w", err)
	}
	return ix.toRecord(ctx, row)
}

// LookupByURLOnDisk is LookupByURL limited to a record whose file still
// exists with the recorded size. A stale record is reported as nil and kept.
func (ix *Index) LookupByURLOnDisk(ctx context.Context, url string) (*domain.FingerprintRecord, error) {
	rec, err := ix.LookupByURL(ctx, url)
	if err != nil || rec == nil {
		return rec, err
	}
	if !ix.OnDisk(rec) {
		ix.logger.Info("indexed file missing or changed, not trusting record",
			"url_hash", HashURL(url),
			"file_path", rec.FilePath,
		)
		return nil, nil
	}
	return rec, nil
}

// OnDisk reports whether rec's file exists and has the recorded size.
func (ix *Index) OnDisk(rec *domain.FingerprintRecord) bool {
	if rec == nil || rec.FilePath == "" {
		return false
	}
	info, err := ix.fs.Stat(rec.FilePath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Size() == rec.SizeBytes
}

// LookupByContent hashes data and returns the matching record, or nil.
func (ix *Index) LookupByContent(ctx context.Context, data []byte) (*domain.FingerprintRecord, error) {
	return ix.LookupByHash(ctx, HashBytes(data))
}

// LookupByHash returns the record for contentHash, or nil.
func (ix *Index) LookupByHash(ctx context.Context, contentHash string) (*domain.FingerprintRecord, error) {
	var row fingerprintRow
	err := ix.db.GetContext(ctx, &row,
		`SELECT `+selectColumns+` FROM fingerprints f WHERE f.content_hash = ?`, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up content hash: %w", err)
	}
	return ix.toRecord(ctx, row)
}

func (ix *Index) toRecord(ctx context.Context, row fingerprintRow) (*domain.FingerprintRecord, error) {
	rec := &domain.FingerprintRecord{
		ContentHash: row.ContentHash,
		FilePath:    row.FilePath,
		SizeBytes:   row.SizeBytes,
		CreatedAt:   time.Unix(0, row.CreatedAt),
		UpdatedAt:   time.Unix(0, row.UpdatedAt),
	}

	if row.Metadata != "" && row.Metadata != "{}" {
		if err := json.Unmarshal([]byte(row.Metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", row.ContentHash, err)
		}
	}

	if err := ix.db.SelectContext(ctx, &rec.SourceURLHashes,
		`SELECT url_hash FROM fingerprint_urls WHERE content_hash = ? ORDER BY url_hash`, row.ContentHash); err != nil {
		return nil, fmt.Errorf("failed to load url hashes: %w", err)
	}
	return rec, nil
}

// Count returns the number of records.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM fingerprints`); err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}

// Statistics returns record, URL and size totals with a per-kind breakdown.
func (ix *Index) Statistics(ctx context.Context) (domain.IndexStats, error) {
	var stats domain.IndexStats

	if err := ix.db.GetContext(ctx, &stats.URLHashes, `SELECT COUNT(*) FROM fingerprint_urls`); err != nil {
		return stats, fmt.Errorf("failed to count url hashes: %w", err)
	}

	var rows []struct {
		FilePath  string `db:"file_path"`
		SizeBytes int64  `db:"size_bytes"`
	}
	if err := ix.db.SelectContext(ctx, &rows, `SELECT file_path, size_bytes FROM fingerprints`); err != nil {
		return stats, fmt.Errorf("failed to load fingerprints: %w", err)
	}

	for _, r := range rows {
		stats.Records++
		stats.TotalBytes += r.SizeBytes
		switch domain.KindOf(r.FilePath) {
		case domain.MediaVideo:
			stats.Videos++
		case domain.MediaImage:
			stats.Images++
		default:
			stats.Other++
		}
	}
	return stats, nil
}

type pathRow struct {
	ContentHash string `db:"content_hash"`
	FilePath    string `db:"file_path"`
}

func (ix *Index) missing(ctx context.Context) ([]string, error) {
	var rows []pathRow
	if err := ix.db.SelectContext(ctx, &rows, `SELECT content_hash, file_path FROM fingerprints`); err != nil {
		return nil, fmt.Errorf("failed to load paths: %w", err)
	}

	var hashes []string
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.FilePath == "" {
			continue
		}
		if _, err := ix.fs.Stat(r.FilePath); errors.Is(err, os.ErrNotExist) {
			hashes = append(hashes, r.ContentHash)
		}
	}
	return hashes, nil
}

// VerifyFilesExist counts records whose last known path no longer exists.
func (ix *Index) VerifyFilesExist(ctx context.Context) (int, error) {
	hashes, err := ix.missing(ctx)
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// PruneMissing deletes records whose last known path no longer exists.
// Stale records are otherwise kept; this is an explicit operator action.
func (ix *Index) PruneMissing(ctx context.Context) (int, error) {
	hashes, err := ix.missing(ctx)
	if err != nil {
		return 0, err
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	err = ix.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, h := range hashes {
			if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprint_urls WHERE content_hash = ?`, h); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints WHERE content_hash = ?`, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &apperr.PersistenceWriteError{Op: "prune fingerprints", Err: err}
	}

	ix.logger.Info("pruned missing fingerprints", "removed", len(hashes))
	return len(hashes), nil
}

// RemoveByPath deletes records whose last known path is path.
func (ix *Index) RemoveByPath(ctx context.Context, path string) (bool, error) {
	var removed int64
	err := ix.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM fingerprint_urls
			WHERE content_hash IN (SELECT content_hash FROM fingerprints WHERE file_path = ?)
		`, path); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM fingerprints WHERE file_path = ?`, path)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return false, &apperr.PersistenceWriteError{Op: "remove fingerprint", Err: err}
	}
	return removed > 0, nil
}

// Clear removes every record. It cannot be undone.
func (ix *Index) Clear(ctx context.Context) error {
	err := ix.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprint_urls`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM fingerprints`)
		return err
	})
	if err != nil {
		return &apperr.PersistenceWriteError{Op: "clear fingerprints", Err: err}
	}

	ix.logger.Warn("fingerprint index cleared")
	return nil
}

func (ix *Index) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := ix.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
