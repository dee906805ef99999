package attachment

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// FSStorage writes attachments to a filesystem. Production uses a base-path
// OS filesystem; tests use an in-memory one.
type FSStorage struct {
	fs      afero.Fs
	baseURL string
}

// NewFSStorage creates a filesystem-backed storage. Returned URLs are
// baseURL joined with the key, or the bare key when baseURL is empty.
func NewFSStorage(fs afero.Fs, baseURL string) *FSStorage {
	return &FSStorage{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put writes body to key, creating parent directories.
func (s *FSStorage) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", key, err)
	}

	f, err := s.fs.Create(key)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", key, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", key, err)
	}

	if s.baseURL == "" {
		return key, nil
	}
	return s.baseURL + "/" + key, nil
}
