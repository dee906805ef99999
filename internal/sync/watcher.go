// Package sync surfaces task writes committed by other processes sharing
// the same store.
package sync

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/logging"
)

// RevisionSource reports the current revision of tasks.
type RevisionSource interface {
	Revisions(ctx context.Context, ids []string) (map[string]int64, error)
}

// Refresher reloads a task and publishes it to local subscribers.
type Refresher interface {
	Refresh(ctx context.Context, taskID string) error
}

// TopicSource lists task ids that currently have local subscribers and the
// revision those subscribers were last given.
type TopicSource interface {
	Topics() []string
	Delivered(taskID string) (int64, bool)
}

// ChangedMsg is a tea.Msg sent when watched tasks changed outside this
// process, or when a check failed.
type ChangedMsg struct {
	IDs   []string
	Error error
}

// checkTimeout is the maximum time allowed for a single revision check.
const checkTimeout = 10 * time.Second

const defaultInterval = time.Second

// Watcher polls task revisions and refreshes tasks whose revision moved.
// It watches every subscribed topic plus any ids passed to Track.
type Watcher struct {
	revisions RevisionSource
	refresher Refresher
	topics    TopicSource
	interval  time.Duration
	log       *logrus.Entry

	resultCh  chan ChangedMsg
	triggerCh chan struct{}
	stopCh    chan struct{}

	mu      gosync.Mutex
	known   map[string]int64
	tracked map[string]struct{}
	running bool
}

// New creates a Watcher. A non-positive interval selects one second.
func New(src RevisionSource, r Refresher, topics TopicSource, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Watcher{
		revisions: src,
		refresher: r,
		topics:    topics,
		interval:  interval,
		log:       logging.Discard(),
		resultCh:  make(chan ChangedMsg, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		known:     make(map[string]int64),
		tracked:   make(map[string]struct{}),
	}
}

// SetLogger sets the logger used for check failures.
func (w *Watcher) SetLogger(log *logrus.Entry) {
	w.log = log.WithField("component", "watcher")
}

// Track replaces the set of extra task ids to watch, such as the rows of a
// task list.
func (w *Watcher) Track(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tracked = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		w.tracked[id] = struct{}{}
	}
}

// Start returns a tea.Cmd that starts the polling goroutine and waits for
// the first result.
func (w *Watcher) Start() tea.Cmd {
	if !w.run() {
		return nil
	}
	return w.waitForResult()
}

// Run polls until ctx ends or Stop is called. Used by the server, which has
// no Bubble Tea runtime to deliver results to.
func (w *Watcher) Run(ctx context.Context) {
	if !w.run() {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	}()
	// Results are only consumed by the TUI; drain them here.
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.resultCh:
		}
	}
}

func (w *Watcher) run() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return false
	}
	w.running = true
	go w.loop()
	return true
}

// Stop halts the polling goroutine.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.running = false
}

// Trigger requests an immediate check without blocking.
func (w *Watcher) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Check()
		case <-w.triggerCh:
			w.Check()
		}
	}
}

// Check compares current revisions with the last observed ones, refreshes
// every task that moved and reports the changed ids. A subscribed task also
// counts as changed when the store is ahead of what its subscribers were
// given, so a foreign write landing before the first poll is not lost.
// For tracked-only ids the first observation just records the revision.
func (w *Watcher) Check() []string {
	ids := w.watched()
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	revs, err := w.revisions.Revisions(ctx, ids)
	if err != nil {
		w.log.WithError(err).Warn("checking task revisions")
		w.sendResult(ChangedMsg{Error: err})
		return nil
	}

	var changed []string
	w.mu.Lock()
	for _, id := range ids {
		rev, ok := revs[id]
		if !ok {
			delete(w.known, id)
			continue
		}
		prev, seen := w.known[id]
		w.known[id] = rev
		if (seen && rev != prev) || w.behind(id, rev) {
			changed = append(changed, id)
		}
	}
	w.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	for _, id := range changed {
		if err := w.refresher.Refresh(ctx, id); err != nil {
			w.log.WithError(err).WithField("task_id", id).Warn("refreshing task")
		}
	}
	w.sendResult(ChangedMsg{IDs: changed})
	return changed
}

// behind reports whether local subscribers of id hold an older revision
// than rev.
func (w *Watcher) behind(id string, rev int64) bool {
	if w.topics == nil {
		return false
	}
	delivered, ok := w.topics.Delivered(id)
	return ok && delivered < rev
}

func (w *Watcher) watched() []string {
	set := make(map[string]struct{})
	if w.topics != nil {
		for _, id := range w.topics.Topics() {
			set[id] = struct{}{}
		}
	}

	w.mu.Lock()
	for id := range w.tracked {
		set[id] = struct{}{}
	}
	w.mu.Unlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sendResult sends a ChangedMsg on the result channel without blocking.
func (w *Watcher) sendResult(msg ChangedMsg) {
	select {
	case w.resultCh <- msg:
	default:
	}
}

func (w *Watcher) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-w.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next change.
// Call it after handling a ChangedMsg to keep listening.
func (w *Watcher) WaitForNextResult() tea.Cmd {
	return w.waitForResult()
}
