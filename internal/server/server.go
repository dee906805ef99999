// Package server runs the HTTP API together with the revision watcher that
// surfaces writes from other processes to websocket subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rapidworks/expertdesk/internal/model"
)

// Watcher is the background poller run next to the listener.
type Watcher interface {
	Run(ctx context.Context)
	Stop()
}

// Server owns the HTTP listener.
type Server struct {
	http    *http.Server
	watcher Watcher
	log     *logrus.Entry
}

// New creates a server for handler listening on cfg.Addr().
func New(cfg model.ServerConfig, handler http.Handler, w Watcher, log *logrus.Entry) *Server {
	return &Server{
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		watcher: w,
		log:     log.WithField("component", "server"),
	}
}

// Run serves until ctx ends or the listener fails. It does not shut the
// listener down; call Shutdown for that.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("addr", s.http.Addr).Info("listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	if s.watcher != nil {
		g.Go(func() error {
			s.watcher.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}

// Shutdown stops the watcher and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	const op = "server.Server.Shutdown"

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.WithField("operation", op).WithError(err).Error("http shutdown")
		return fmt.Errorf("shutting down http: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
