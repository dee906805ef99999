// Package attachment stores files customers attach to task requests.
package attachment

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/rapidworks/expertdesk/internal/model"
)

// Storage persists an attachment body under key and returns a URL that
// resolves to it.
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// ObjectKey builds the storage key for a task attachment:
// taskAttachments/{taskId}/{unixMillis}_{filename}.
func ObjectKey(taskID string, at time.Time, filename string) string {
	return fmt.Sprintf("taskAttachments/%s/%d_%s", taskID, at.UnixMilli(), SanitizeName(filename))
}

// SanitizeName strips directory components and characters that are unsafe
// in object keys.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// New returns the storage backend selected by cfg.Driver.
func New(ctx context.Context, cfg model.AttachmentConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "file://" + filepath.ToSlash(cfg.Dir)
		}
		return NewFSStorage(afero.NewBasePathFs(afero.NewOsFs(), cfg.Dir), baseURL), nil
	case "s3":
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown attachment driver %q", cfg.Driver)
	}
}
