// Package lifecycle is the single writer of task requests. It enforces the
// status transition table, appends chat messages atomically, tracks read
// state and streams committed snapshots to subscribers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rapidworks/expertdesk/internal/attachment"
	"github.com/rapidworks/expertdesk/internal/logging"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/notify"
	"github.com/rapidworks/expertdesk/internal/store"
)

// maxConflictRetries bounds how often a compare-and-swap write is retried
// after losing a revision race.
const maxConflictRetries = 5

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ev notify.Event)
}

// Service implements the task lifecycle on top of a Store.
type Service struct {
	store    store.Store
	hub      *Hub
	files    attachment.Storage
	notifier Notifier
	now      func() time.Time
	log      *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

// WithNotifier sets the event sink for outbound notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithAttachments sets the storage used for task attachments.
func WithAttachments(files attachment.Storage) Option {
	return func(s *Service) { s.files = files }
}

// NewService creates a lifecycle service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		hub:   NewHub(),
		now:   func() time.Time { return time.Now().UTC() },
		log:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "lifecycle")
	return s
}

// Hub exposes the snapshot hub, used by the cross-process watcher.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Upload is an attachment submitted with a new task.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CreateTaskInput is the customer's task request payload.
type CreateTaskInput struct {
	ExpertEmail     string
	ExpertName      string
	ExpertType      string
	TaskName        string
	TaskDescription string
	DueDate         *time.Time
	Files           []Upload
}

// CreateTask stores a new pending task with no messages and returns its id.
func (s *Service) CreateTask(ctx context.Context, p model.Principal, in CreateTaskInput) (string, error) {
	const op = "lifecycle.Service.CreateTask"
	log := s.log.WithField("operation", op)

	if p.Role == model.RoleExpert {
		return "", forbidden(p, "create tasks")
	}
	if strings.TrimSpace(in.TaskName) == "" {
		return "", invalid("task_name", "is required")
	}
	if strings.TrimSpace(in.ExpertEmail) == "" {
		return "", invalid("expert_email", "is required")
	}
	if len(in.Files) > 0 && s.files == nil {
		return "", invalid("files", "attachments are not configured")
	}

	now := s.now()
	task := &model.TaskRequest{
		ID:              uuid.NewString(),
		Status:          model.StatusPending,
		UserID:          p.UserID,
		UserEmail:       p.Email,
		UserName:        p.Name,
		ExpertEmail:     strings.TrimSpace(in.ExpertEmail),
		ExpertName:      in.ExpertName,
		ExpertType:      in.ExpertType,
		TaskName:        strings.TrimSpace(in.TaskName),
		TaskDescription: in.TaskDescription,
		DueDate:         in.DueDate,
		Files:           []model.FileRef{},
		Messages:        []model.Message{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, f := range in.Files {
		key := attachment.ObjectKey(task.ID, now, f.Name)
		url, err := s.files.Put(ctx, key, f.Body, f.Size, f.ContentType)
		if err != nil {
			return "", fmt.Errorf("uploading %s: %w", f.Name, err)
		}
		task.Files = append(task.Files, model.FileRef{
			Name: f.Name,
			URL:  url,
			Size: f.Size,
			Type: f.ContentType,
		})
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}

	log.WithFields(logrus.Fields{"task_id": task.ID, "expert": task.ExpertEmail}).Info("task created")
	s.emit(notify.TaskCreated, task, p)
	return task.ID, nil
}

// Get returns a task the principal may see.
func (s *Service) Get(ctx context.Context, p model.Principal, id string) (*model.TaskRequest, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(p, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ListOptions narrows List results.
type ListOptions struct {
	Status *model.Status
	Query  string
	Limit  int
}

// List returns the tasks visible to the principal, most recently updated
// first: customers see their own requests, experts the ones addressed to
// them, admins everything.
func (s *Service) List(ctx context.Context, p model.Principal, opts ListOptions) ([]model.TaskRequest, error) {
	filter := store.TaskFilter{
		Status:   opts.Status,
		SortBy:   "updated_at",
		SortDesc: true,
		Limit:    opts.Limit,
	}
	if opts.Query != "" {
		filter.Query = &opts.Query
	}
	switch p.Role {
	case model.RoleCustomer:
		filter.UserID = &p.UserID
	case model.RoleExpert:
		filter.ExpertEmail = &p.Email
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// Invoices lists every accepted task's invoice snapshot. Admin only.
func (s *Service) Invoices(ctx context.Context, p model.Principal) ([]model.TaskRequest, error) {
	if p.Role != model.RoleAdmin {
		return nil, forbidden(p, "review invoices")
	}
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{SortBy: "updated_at", SortDesc: true})
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	out := make([]model.TaskRequest, 0, len(tasks))
	for _, t := range tasks {
		if t.Invoice != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// MessageInput is a chat message submitted by a principal.
type MessageInput struct {
	// ClientID is an optional correlation id. Resubmitting the same id
	// returns the already stored message.
	ClientID string
	Content  string
}

// AppendMessage appends a plain message authored by the principal.
func (s *Service) AppendMessage(ctx context.Context, p model.Principal, taskID string, in MessageInput) (model.Message, error) {
	const op = "lifecycle.Service.AppendMessage"

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return model.Message{}, invalid("content", "is required")
	}
	if _, err := s.Get(ctx, p, taskID); err != nil {
		return model.Message{}, err
	}

	msg := model.Message{
		ID:          uuid.NewString(),
		ClientID:    in.ClientID,
		Sender:      p.Sender(),
		Type:        model.MessageTypePlain,
		Content:     content,
		SenderName:  p.Name,
		SenderEmail: p.Email,
		CreatedAt:   s.now(),
	}

	stored, created, err := s.store.AppendMessage(ctx, taskID, msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("appending message: %w", err)
	}
	if created {
		s.log.WithFields(logrus.Fields{
			"operation": op,
			"task_id":   taskID,
			"seq":       stored.Seq,
		}).Debug("message appended")
		s.refresh(ctx, taskID)
	}
	return stored, nil
}

// MarkRead marks every message from the principal's counterpart as read and
// returns how many changed. Repeated calls are no-ops.
func (s *Service) MarkRead(ctx context.Context, p model.Principal, taskID string) (int, error) {
	if _, err := s.Get(ctx, p, taskID); err != nil {
		return 0, err
	}

	n, err := s.store.MarkRead(ctx, taskID, p.Role.Counterpart())
	if err != nil {
		return 0, fmt.Errorf("marking read: %w", err)
	}
	if n > 0 {
		s.refresh(ctx, taskID)
	}
	return n, nil
}

// Subscribe streams snapshots of a task: the current record first, then
// every committed change including the caller's own writes. The channel is
// closed when ctx ends.
func (s *Service) Subscribe(ctx context.Context, p model.Principal, taskID string) (<-chan *model.TaskRequest, error) {
	sub := s.hub.Subscribe(taskID)

	task, err := s.Get(ctx, p, taskID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.offer(task)

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub.C, nil
}

// Refresh reloads a task and publishes it to subscribers. Used to surface
// writes committed by other processes.
func (s *Service) Refresh(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	s.hub.Publish(task)
	return nil
}

// refresh publishes after a local write. The write is already committed,
// so a failed reload is only logged.
func (s *Service) refresh(ctx context.Context, taskID string) *model.TaskRequest {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Warn("reloading task after write")
		return nil
	}
	s.hub.Publish(task)
	return task
}

// change lists the message edits that accompany a field update.
type change struct {
	append  []model.Message
	rewrite []model.Message
}

// mutate loads the task, lets fn edit it in place and writes it back with a
// revision check, retrying on conflict.
func (s *Service) mutate(
	ctx context.Context,
	taskID string,
	fn func(t *model.TaskRequest) (change, error),
) (*model.TaskRequest, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		task.UpdatedAt = s.now()

		c, err := fn(task)
		if err != nil {
			return nil, err
		}

		u := store.UpdateFrom(task)
		u.Append = c.append
		u.Rewrite = c.rewrite
		if _, err := s.store.UpdateTask(ctx, u); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.log.WithField("task_id", taskID).WithField("attempt", attempt+1).Debug("revision conflict, retrying")
				continue
			}
			return nil, err
		}

		if fresh := s.refresh(ctx, taskID); fresh != nil {
			return fresh, nil
		}
		return task, nil
	}
	return nil, fmt.Errorf("updating task %s after %d attempts: %w", taskID, maxConflictRetries, ErrConflict)
}

func (s *Service) systemMessage(content string) model.Message {
	return model.Message{
		ID:         uuid.NewString(),
		Sender:     model.SenderSystem,
		Type:       model.MessageTypeStatusUpdate,
		Content:    content,
		SenderName: "System",
		CreatedAt:  s.now(),
	}
}

func (s *Service) emit(kind notify.Kind, task *model.TaskRequest, actor model.Principal) {
	if s.notifier == nil || task == nil {
		return
	}
	s.notifier.Notify(notify.Event{
		Kind:  kind,
		Task:  *task.Clone(),
		Actor: actor,
		At:    s.now(),
	})
}

// authorize checks that p may see and act on task.
func authorize(p model.Principal, task *model.TaskRequest) error {
	switch p.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleExpert:
		if strings.EqualFold(task.ExpertEmail, p.Email) {
			return nil
		}
	case model.RoleCustomer:
		if p.UserID != "" && task.UserID == p.UserID {
			return nil
		}
	}
	return forbidden(p, "access task "+task.ID)
}
