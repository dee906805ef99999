package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		env  string
		want logrus.Level
	}{
		{EnvLocal, logrus.DebugLevel},
		{EnvDev, logrus.InfoLevel},
		{EnvProd, logrus.WarnLevel},
		{"unknown", logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			log, closer, err := Setup(tt.env, "", &bytes.Buffer{})
			require.NoError(t, err)
			defer closer.Close()
			assert.Equal(t, tt.want, log.Logger.GetLevel())
		})
	}
}

func TestSetupWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, closer, err := Setup(EnvDev, path, nil)
	require.NoError(t, err)

	log.WithField("operation", "test").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "operation=test")
}
