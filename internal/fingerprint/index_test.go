package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/veranemoloko/media-harvester/internal/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIndex(t *testing.T, fs afero.Fs) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"), fs, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func writeFile(t *testing.T, fs afero.Fs, path string, data []byte) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}

func TestIndex_LookupByContent_FindsRenamedCopy(t *testing.T) {
	fs := afero.NewMemMapFs()
	ix := newTestIndex(t, fs)
	ctx := context.Background()

	data := []byte("same bytes, different names")
	writeFile(t, fs, "/downloads/one.jpg", data)
	writeFile(t, fs, "/elsewhere/two.jpg", data)

	_, err := ix.RegisterFile(ctx, "/downloads/one.jpg", "", nil)
	require.NoError(t, err)

	other, err := afero.ReadFile(fs, "/elsewhere/two.jpg")
	require.NoError(t, err)

	rec, err := ix.LookupByContent(ctx, other)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/downloads/one.jpg", rec.FilePath)
	assert.Equal(t, int64(len(data)), rec.SizeBytes)
}

func TestIndex_Register_Idempotent(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())
	ctx := context.Background()

	p := RegisterParams{
		ContentHash:   HashBytes([]byte("B")),
		SourceURLHash: HashURL("https://x/a.jpg"),
		Path:          "/downloads/a.jpg",
		Size:          1,
	}

	created, err := ix.Register(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ix.Register(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := ix.LookupByHash(ctx, p.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{p.SourceURLHash}, rec.SourceURLHashes)
}

func TestIndex_Register_MoveKeepsMetadataAndCollectsURLs(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())
	ctx := context.Background()
	sum := HashBytes([]byte("content"))

	_, err := ix.Register(ctx, RegisterParams{
		ContentHash:   sum,
		SourceURLHash: HashURL("https://x/a.jpg"),
		Path:          "/downloads/a.jpg",
		Size:          7,
		Metadata:      map[string]string{"subreddit": "pics"},
	})
	require.NoError(t, err)

	_, err = ix.Register(ctx, RegisterParams{
		ContentHash:   sum,
		SourceURLHash: HashURL("https://mirror/a.jpg"),
		Path:          "/archive/a.jpg",
		Size:          7,
		Metadata:      map[string]string{"subreddit": "other"},
	})
	require.NoError(t, err)

	rec, err := ix.LookupByHash(ctx, sum)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/archive/a.jpg", rec.FilePath)
	assert.Equal(t, map[string]string{"subreddit": "pics"}, rec.Metadata)
	assert.Len(t, rec.SourceURLHashes, 2)

	byMirror, err := ix.LookupByURL(ctx, "https://mirror/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, byMirror)
	assert.Equal(t, sum, byMirror.ContentHash)
}

func TestIndex_Register_RejectsInvalidHash(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())

	_, err := ix.Register(context.Background(), RegisterParams{ContentHash: "abc", Path: "/x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidHash)
}

func TestIndex_LookupByURL(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())
	ctx := context.Background()

	rec, err := ix.LookupByURL(ctx, "https://x/unknown.jpg")
	require.NoError(t, err)
	assert.Nil(t, rec)

	body := []byte("B")
	_, err = ix.Register(ctx, RegisterParams{
		ContentHash:   HashBytes(body),
		SourceURLHash: HashURL("https://x/a.jpg"),
		Path:          "/downloads/a.jpg",
		Size:          int64(len(body)),
	})
	require.NoError(t, err)

	rec, err = ix.LookupByURL(ctx, "https://x/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/downloads/a.jpg", rec.FilePath)

	// Lookup is verbatim: a different spelling is not found.
	rec, err = ix.LookupByURL(ctx, "https://x/a.jpg?x=1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIndex_ConcurrentRegister(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ix.Register(ctx, RegisterParams{
				ContentHash: HashBytes([]byte(fmt.Sprintf("file-%d", i))),
				Path:        fmt.Sprintf("/downloads/%d.jpg", i),
				Size:        1,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	count, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestIndex_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	fs := afero.NewMemMapFs()
	ctx := context.Background()
	sum := HashBytes([]byte("durable"))

	ix, err := Open(dbPath, fs, newTestLogger())
	require.NoError(t, err)
	_, err = ix.Register(ctx, RegisterParams{ContentHash: sum, Path: "/d/a.png", Size: 7})
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	reopened, err := Open(dbPath, fs, newTestLogger())
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.LookupByHash(ctx, sum)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "/d/a.png", rec.FilePath)
}

func TestIndex_Statistics(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())
	ctx := context.Background()

	for i, p := range []string{"/d/a.mp4", "/d/b.jpg", "/d/c.png", "/d/d.txt"} {
		_, err := ix.Register(ctx, RegisterParams{
			ContentHash:   HashBytes([]byte(p)),
			SourceURLHash: HashURL(p),
			Path:          p,
			Size:          int64(10 * (i + 1)),
		})
		require.NoError(t, err)
	}

	stats, err := ix.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, 4, stats.URLHashes)
	assert.Equal(t, int64(100), stats.TotalBytes)
	assert.Equal(t, 1, stats.Videos)
	assert.Equal(t, 2, stats.Images)
	assert.Equal(t, 1, stats.Other)
}

func TestIndex_VerifyAndPruneMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	ix := newTestIndex(t, fs)
	ctx := context.Background()

	writeFile(t, fs, "/d/kept.jpg", []byte("kept"))
	writeFile(t, fs, "/d/gone.jpg", []byte("gone"))
	_, err := ix.ScanDirectory(ctx, "/d", nil)
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/d/gone.jpg"))

	missing, err := ix.VerifyFilesExist(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, missing)

	// Verification alone never deletes.
	count, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	removed, err := ix.PruneMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	rec, err := ix.LookupByContent(ctx, []byte("gone"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIndex_RemoveByPathAndClear(t *testing.T) {
	ix := newTestIndex(t, afero.NewMemMapFs())
	ctx := context.Background()

	for _, p := range []string{"/d/a.jpg", "/d/b.jpg"} {
		_, err := ix.Register(ctx, RegisterParams{
			ContentHash:   HashBytes([]byte(p)),
			SourceURLHash: HashURL("https://x" + p),
			Path:          p,
			Size:          1,
		})
		require.NoError(t, err)
	}

	ok, err := ix.RemoveByPath(ctx, "/d/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.RemoveByPath(ctx, "/d/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ix.Clear(ctx))

	stats, err := ix.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)
	assert.Equal(t, 0, stats.URLHashes)
}

func TestHashFile_MissingFile(t *testing.T) {
	_, _, err := HashFile(afero.NewMemMapFs(), "/nope")

	var hashErr *apperr.HashComputationError
	require.True(t, errors.As(err, &hashErr))
	assert.Equal(t, "/nope", hashErr.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestHashURL_StableAndFixedWidth(t *testing.T) {
	a := HashURL("https://x/a.jpg")
	assert.Len(t, a, 16)
	assert.Equal(t, a, HashURL("https://x/a.jpg"))
	assert.NotEqual(t, a, HashURL("https://x/b.jpg"))
}

func TestValidContentHash(t *testing.T) {
	assert.True(t, ValidContentHash(HashBytes([]byte("x"))))
	assert.False(t, ValidContentHash(""))
	assert.False(t, ValidContentHash("zz"+HashBytes([]byte("x"))[2:]))
}

func TestIndex_LookupByURLOnDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	ix := newTestIndex(t, fs)
	ctx := context.Background()

	writeFile(t, fs, "/d/a.jpg", []byte("abc"))
	_, err := ix.RegisterFile(ctx, "/d/a.jpg", "https://x/a.jpg", nil)
	require.NoError(t, err)

	rec, err := ix.LookupByURLOnDisk(ctx, "https://x/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, ix.OnDisk(rec))

	// Same name, different size.
	writeFile(t, fs, "/d/a.jpg", []byte("abcdef"))
	rec, err = ix.LookupByURLOnDisk(ctx, "https://x/a.jpg")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, fs.Remove("/d/a.jpg"))
	rec, err = ix.LookupByURLOnDisk(ctx, "https://x/a.jpg")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The stale record is still there.
	rec, err = ix.LookupByURL(ctx, "https://x/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, ix.OnDisk(rec))

	rec, err = ix.LookupByURLOnDisk(ctx, "https://x/unknown.jpg")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
