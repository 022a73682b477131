package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	apperr "github.com/veranemoloko/media-harvester/internal/errors"
)

// contentHashLen is the hex length of a SHA-256 digest.
const contentHashLen = sha256.Size * 2

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the digest and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile hashes the file at path on fs. Failures are HashComputationError.
func HashFile(fs afero.Fs, path string) (string, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", 0, &apperr.HashComputationError{Path: path, Err: err}
	}
	defer f.Close()

	sum, n, err := HashReader(f)
	if err != nil {
		return "", 0, &apperr.HashComputationError{Path: path, Err: err}
	}
	return sum, n, nil
}

// HashURL returns the xxhash64 of the verbatim URL as 16 hex characters.
// It only narrows the pre-fetch check; content hashes decide duplicates.
func HashURL(url string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(url))
}

// ValidContentHash reports whether h looks like a hex SHA-256 digest.
func ValidContentHash(h string) bool {
	if len(h) != contentHashLen {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
