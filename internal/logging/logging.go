// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Setup builds a logger for env. Output goes to the file at path when set;
// local runs with an empty path log to console instead. The returned closer
// releases the log file.
func Setup(env, path string, console io.Writer) (*logrus.Entry, io.Closer, error) {
	log := logrus.New()

	var closer io.Closer = nopCloser{}
	out := console
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
		}
		out = f
		closer = f
	}
	if out == nil {
		out = io.Discard
	}
	log.SetOutput(out)

	switch env {
	case EnvLocal:
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{
			ForceColors:   path == "",
			DisableColors: path != "",
			FullTimestamp: true,
		})
	case EnvDev:
		log.SetLevel(logrus.InfoLevel)
		log.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	default:
		log.SetLevel(logrus.WarnLevel)
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return logrus.NewEntry(log), closer, nil
}

// Discard returns an entry that drops everything. Used by tests and as a
// default for components constructed without a logger.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
