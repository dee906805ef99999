// Package bootstrap assembles the runtime dependencies shared by the
// terminal client and the API server from an AppConfig.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/attachment"
	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/notify"
	"github.com/rapidworks/expertdesk/internal/store"
	appsync "github.com/rapidworks/expertdesk/internal/sync"
)

// Deps holds the wired components. Close releases them in dependency order.
type Deps struct {
	Store    store.Store
	Files    attachment.Storage
	Notifier *notify.Dispatcher
	Service  *lifecycle.Service
	Watcher  *appsync.Watcher
}

// OpenStore opens the persistence backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg model.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, errors.New("store.mongo_uri is required for the mongo driver")
		}
		st, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Senders returns the notification channels configured in cfg.
func Senders(cfg model.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TeamsWebhookURL != "" {
		senders = append(senders, notify.NewTeamsNotifier(cfg.TeamsWebhookURL))
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From != "" {
		senders = append(senders, notify.NewEmailNotifier(cfg.SMTP))
	}
	return senders
}

// Open wires every dependency from cfg.
func Open(ctx context.Context, cfg *model.AppConfig, log *logrus.Entry) (*Deps, error) {
	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if ms, ok := st.(*store.MongoStore); ok {
		ms.SetLogger(log)
	}

	files, err := attachment.New(ctx, cfg.Attachments)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening attachment storage: %w", err)
	}

	senders := Senders(cfg.Notify)
	dispatcher := notify.NewDispatcher(log, time.Duration(cfg.Notify.TimeoutSec)*time.Second, senders...)

	svc := lifecycle.NewService(st,
		lifecycle.WithLogger(log),
		lifecycle.WithNotifier(dispatcher),
		lifecycle.WithAttachments(files),
	)

	w := appsync.New(st, svc, svc.Hub(), time.Duration(cfg.Display.PollIntervalMs)*time.Millisecond)
	w.SetLogger(log)

	log.WithFields(logrus.Fields{
		"store":       cfg.Store.Driver,
		"attachments": cfg.Attachments.Driver,
		"notifiers":   len(senders),
	}).Info("dependencies ready")

	return &Deps{
		Store:    st,
		Files:    files,
		Notifier: dispatcher,
		Service:  svc,
		Watcher:  w,
	}, nil
}

// Close stops the watcher, drains pending notifications and closes the
// store.
func (d *Deps) Close(ctx context.Context) error {
	d.Watcher.Stop()
	return errors.Join(
		d.Notifier.Shutdown(ctx),
		d.Store.Close(),
	)
}
