// Package notify delivers best-effort notifications about task lifecycle
// events. Delivery failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rapidworks/expertdesk/internal/model"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	TaskCreated      Kind = "task_created"
	EstimateSent     Kind = "estimate_sent"
	EstimateAccepted Kind = "estimate_accepted"
	EstimateDeclined Kind = "estimate_declined"
	TaskCompleted    Kind = "task_completed"
)

// Event is a snapshot of a task at the moment something happened to it.
type Event struct {
	Kind  Kind
	Task  model.TaskRequest
	Actor model.Principal
	At    time.Time
}

// Sender delivers an event to one channel. A sender returns nil for event
// kinds it does not handle.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Dispatcher fans each event out to every sender in the background.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	log     *logrus.Entry
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Each delivery round is bounded by
// timeout.
func NewDispatcher(log *logrus.Entry, timeout time.Duration, senders ...Sender) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		senders: senders,
		timeout: timeout,
		log:     log.WithField("component", "notify"),
	}
}

// Notify starts delivering ev and returns immediately.
func (d *Dispatcher) Notify(ev Event) {
	if len(d.senders) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ev)
	}()
}

// Wait blocks until every in-flight delivery finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight deliveries or until ctx ends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notifications: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(ev Event) {
	const op = "notify.Dispatcher.deliver"
	log := d.log.WithFields(logrus.Fields{
		"operation": op,
		"event":     ev.Kind,
		"task_id":   ev.Task.ID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range d.senders {
		g.Go(func() error {
			if err := s.Send(ctx, ev); err != nil {
				log.WithError(err).WithField("sender", s.Name()).Warn("notification failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	log.Debug("notifications delivered")
}
