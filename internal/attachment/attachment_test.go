package attachment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	at := time.UnixMilli(1767000000123)
	assert.Equal(t, "taskAttachments/t-1/1767000000123_brief.pdf", ObjectKey("t-1", at, "brief.pdf"))
	assert.Equal(t, "taskAttachments/t-1/1767000000123_my_logo__v2_.png", ObjectKey("t-1", at, "../../my logo (v2).png"))
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":         "report.pdf",
		"C:\\docs\\plan.doc": "plan.doc",
		"":                   "file",
		"/":                  "file",
		"naïve.txt":          "na_ve.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestFSStoragePut(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFSStorage(fs, "https://files.example.com/")

	key := ObjectKey("t-1", time.UnixMilli(42), "brief.txt")
	url, err := s.Put(context.Background(), key, strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/taskAttachments/t-1/42_brief.txt", url)

	data, err := afero.ReadFile(fs, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestS3StorageURL(t *testing.T) {
	s := &S3Storage{bucket: "files", region: "eu-central-1"}
	assert.Equal(t, "https://files.s3.eu-central-1.amazonaws.com/k", s.URL("k"))

	s.endpoint = "http://localhost:9000"
	assert.Equal(t, "http://localhost:9000/files/k", s.URL("k"))
}
