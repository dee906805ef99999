package store

import (
	"context"
	"errors"
	"time"

	"github.com/rapidworks/expertdesk/internal/model"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned by UpdateTask when the stored revision no
	// longer matches the expected one.
	ErrConflict = errors.New("task revision conflict")
)

// TaskFilter controls filtering, sorting, and pagination for task queries.
type TaskFilter struct {
	UserID      *string
	ExpertEmail *string
	Status      *model.Status
	Query       *string
	SortBy      string // "created_at", "updated_at", "task_name", "status"
	SortDesc    bool
	Limit       int
	Offset      int
}

// TaskUpdate is a compare-and-swap write of a task's mutable fields.
// The write applies only if the stored revision equals ExpectedRevision.
type TaskUpdate struct {
	ID               string
	ExpectedRevision int64

	Status          model.Status
	Estimate        *model.Estimate
	Invoice         *model.Invoice
	DeclineFeedback string
	UpdatedAt       time.Time
	CompletedAt     *time.Time

	// Append lists messages to append in the same commit. Seq is assigned
	// by the store.
	Append []model.Message

	// Rewrite replaces the content of existing messages, matched by ID.
	Rewrite []model.Message
}

// UpdateFrom seeds a TaskUpdate with the current mutable state of t.
func UpdateFrom(t *model.TaskRequest) TaskUpdate {
	return TaskUpdate{
		ID:               t.ID,
		ExpectedRevision: t.Revision,
		Status:           t.Status,
		Estimate:         t.Estimate,
		Invoice:          t.Invoice,
		DeclineFeedback:  t.DeclineFeedback,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

// Store defines the persistence interface for task requests and their
// chat messages.
type Store interface {
	// CreateTask inserts a new task with revision 1 and no messages.
	CreateTask(ctx context.Context, task *model.TaskRequest) error

	// GetTask returns the task with its messages in append order.
	GetTask(ctx context.Context, id string) (*model.TaskRequest, error)

	// ListTasks returns tasks matching the filter, messages included.
	ListTasks(ctx context.Context, opts TaskFilter) ([]model.TaskRequest, error)

	// UpdateTask applies u atomically and returns the new revision.
	UpdateTask(ctx context.Context, u TaskUpdate) (int64, error)

	// AppendMessage atomically assigns the next sequence number and stores
	// msg. If msg.ClientID was already used on this task the stored message
	// is returned and created is false.
	AppendMessage(ctx context.Context, taskID string, msg model.Message) (stored model.Message, created bool, err error)

	// MarkRead marks every unread message from sender as read and returns
	// how many changed. The revision is bumped only when something changed.
	MarkRead(ctx context.Context, taskID string, sender model.Sender) (int, error)

	// Revisions returns the current revision of each existing task id.
	Revisions(ctx context.Context, ids []string) (map[string]int64, error)

	Close() error
}
