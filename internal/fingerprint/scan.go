package fingerprint

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/veranemoloko/media-harvester/internal/metrics"
)

// ScanProgress is reported after every file a scan visits.
type ScanProgress struct {
	Path   string
	Files  int
	Failed int
}

// ScanResult summarises a directory scan.
type ScanResult struct {
	// Files is the number of files hashed and registered.
	Files int
	// NewRecords counts registrations that created a record.
	NewRecords int
	// Failed counts files that could not be hashed.
	Failed int
}

// ScanDirectory hashes every regular file below root and registers it.
// Unreadable files are logged and skipped. Records for files that are gone
// are left alone. A persistence failure aborts the scan.
func (ix *Index) ScanDirectory(ctx context.Context, root string, progress func(ScanProgress)) (ScanResult, error) {
	var res ScanResult

	report := func(path string) {
		if progress != nil {
			progress(ScanProgress{Path: path, Files: res.Files, Failed: res.Failed})
		}
	}

	err := afero.Walk(ix.fs, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			ix.logger.Warn("scan entry unreadable", "path", path, "error", err)
			metrics.ScanErrors.Inc()
			res.Failed++
			report(path)
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		// In-flight atomic writes from the file store.
		if strings.HasSuffix(info.Name(), tmpSuffix) {
			return nil
		}

		sum, size, hashErr := HashFile(ix.fs, path)
		if hashErr != nil {
			ix.logger.Warn("skipping file", "path", path, "error", hashErr)
			metrics.ScanErrors.Inc()
			res.Failed++
			report(path)
			return nil
		}

		created, regErr := ix.Register(ctx, RegisterParams{
			ContentHash: sum,
			Path:        path,
			Size:        size,
		})
		if regErr != nil {
			return regErr
		}

		res.Files++
		if created {
			res.NewRecords++
		}
		report(path)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", root, err)
	}

	ix.logger.Info("scan completed",
		"root", root,
		"files", res.Files,
		"new_records", res.NewRecords,
		"failed", res.Failed,
	)
	return res, nil
}

// tmpSuffix marks partially written files that scans must ignore.
const tmpSuffix = ".tmp"
