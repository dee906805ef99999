package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTask returns a pending task request owned by a fixed test customer and
// addressed to a fixed test expert.
func NewTask(name string) *model.TaskRequest {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return &model.TaskRequest{
		ID:              uuid.NewString(),
		Status:          model.StatusPending,
		UserID:          "user-1",
		UserEmail:       "ann@example.com",
		UserName:        "Ann",
		ExpertEmail:     "dana@rapidworks.io",
		ExpertName:      "Dana",
		ExpertType:      "designer",
		TaskName:        name,
		TaskDescription: name + " description",
		Files:           []model.FileRef{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// SeedTask stores a new task and fails the test on error.
func SeedTask(t *testing.T, s store.Store, name string) *model.TaskRequest {
	t.Helper()

	task := NewTask(name)
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("seeding task %q: %v", name, err)
	}
	return task
}

// Customer and Expert are the principals matching NewTask.
var (
	Customer = model.Principal{UserID: "user-1", Email: "ann@example.com", Name: "Ann", Role: model.RoleCustomer}
	Expert   = model.Principal{UserID: "expert-1", Email: "dana@rapidworks.io", Name: "Dana", Role: model.RoleExpert}
	Admin    = model.Principal{UserID: "admin-1", Email: "boss@rapidworks.io", Name: "Boss", Role: model.RoleAdmin}
)
