package lifecycle

import (
	"sort"
	"sync"

	"github.com/rapidworks/expertdesk/internal/model"
)

// Hub fans committed task snapshots out to subscribers, grouped by task id.
// Each subscriber holds at most one undelivered snapshot; a newer snapshot
// replaces an unread older one, and snapshots at or below the revision a
// subscriber already got are dropped.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*subscriber]struct{})}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan *model.TaskRequest
	last   int64
	closed bool
}

// Subscription is a live stream of snapshots for one task.
type Subscription struct {
	C <-chan *model.TaskRequest

	hub    *Hub
	taskID string
	sub    *subscriber
	once   sync.Once
}

// Subscribe registers a subscriber for taskID.
func (h *Hub) Subscribe(taskID string) *Subscription {
	sub := &subscriber{ch: make(chan *model.TaskRequest, 1)}

	h.mu.Lock()
	if h.topics[taskID] == nil {
		h.topics[taskID] = make(map[*subscriber]struct{})
	}
	h.topics[taskID][sub] = struct{}{}
	h.mu.Unlock()

	return &Subscription{C: sub.ch, hub: h, taskID: taskID, sub: sub}
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs := s.hub.topics[s.taskID]; subs != nil {
			delete(subs, s.sub)
			if len(subs) == 0 {
				delete(s.hub.topics, s.taskID)
			}
		}
		s.hub.mu.Unlock()

		s.sub.mu.Lock()
		s.sub.closed = true
		close(s.sub.ch)
		s.sub.mu.Unlock()
	})
}

// Publish offers task to every subscriber of its id.
func (h *Hub) Publish(task *model.TaskRequest) {
	if task == nil {
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.topics[task.ID]))
	for sub := range h.topics[task.ID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.offer(task)
	}
}

func (s *Subscription) offer(task *model.TaskRequest) {
	s.sub.offer(task)
}

func (s *subscriber) offer(task *model.TaskRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || task.Revision <= s.last {
		return
	}
	s.last = task.Revision

	snapshot := task.Clone()
	select {
	case s.ch <- snapshot:
		return
	default:
	}

	// Replace the unread older snapshot.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snapshot
}

// Topics returns the ids of tasks that currently have subscribers.
func (h *Hub) Topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.topics))
	for id := range h.topics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delivered returns the lowest revision offered to the subscribers of
// taskID, and false when the task has no subscribers.
func (h *Hub) Delivered(taskID string) (int64, bool) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.topics[taskID]))
	for sub := range h.topics[taskID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		return 0, false
	}
	lowest := int64(-1)
	for _, sub := range subs {
		sub.mu.Lock()
		if lowest < 0 || sub.last < lowest {
			lowest = sub.last
		}
		sub.mu.Unlock()
	}
	return lowest, true
}
