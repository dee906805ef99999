package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/store"
	"github.com/rapidworks/expertdesk/tests/testutil"
)

func newMessage(sender model.Sender, content string) model.Message {
	return model.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Type:      model.MessageTypePlain,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store {
		return testutil.NewTestStore(t)
	})
}

// Two handles on one file stand in for two terminal sessions sharing the
// database.
func TestSQLiteStoreSharedFileConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	openStore := func() *store.SQLiteStore {
		s, err := store.NewSQLiteStore(path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	customerSide, expertSide := openStore(), openStore()
	ctx := context.Background()
	task := testutil.SeedTask(t, customerSide, "shared file")

	const perHandle = 100
	var wg sync.WaitGroup
	errs := make(chan error, 2*perHandle)
	write := func(s store.Store, sender model.Sender) {
		defer wg.Done()
		for i := 0; i < perHandle; i++ {
			msg := newMessage(sender, fmt.Sprintf("%s-%d", sender, i))
			msg.ClientID = uuid.NewString()
			_, _, err := s.AppendMessage(ctx, task.ID, msg)
			errs <- err
		}
	}
	wg.Add(2)
	go write(customerSide, model.SenderCustomer)
	go write(expertSide, model.SenderExpert)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := expertSide.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2*perHandle)
	for i, m := range got.Messages {
		assert.Equal(t, int64(i+1), m.Seq)
	}
	assert.Equal(t, int64(1+2*perHandle), got.Revision)

	// Both sessions flip the same unread messages at once; each message is
	// counted by exactly one of them.
	counts := make(chan int, 2)
	readErrs := make(chan error, 2)
	for _, s := range []store.Store{customerSide, expertSide} {
		wg.Add(1)
		go func(s store.Store) {
			defer wg.Done()
			n, err := s.MarkRead(ctx, task.ID, model.SenderExpert)
			counts <- n
			readErrs <- err
		}(s)
	}
	wg.Wait()
	close(counts)
	close(readErrs)
	for err := range readErrs {
		require.NoError(t, err)
	}
	total := 0
	for n := range counts {
		total += n
	}
	assert.Equal(t, perHandle, total)

	got, err = customerSide.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, model.UnreadCount(got, model.RoleCustomer))
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("EXPERTDESK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("EXPERTDESK_TEST_MONGO_URI not set")
	}
	runStoreSuite(t, func(t *testing.T) store.Store {
		db := "expertdesk_test_" + uuid.NewString()[:8]
		s, err := store.NewMongoStore(context.Background(), uri, db)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "Logo redesign")

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "Logo redesign", got.TaskName)
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, int64(1), got.Revision)
		assert.Empty(t, got.Messages)

		_, err = s.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("serial appends keep call order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "ordering")

		for i := 0; i < 10; i++ {
			_, created, err := s.AppendMessage(ctx, task.ID, newMessage(model.SenderCustomer, fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			assert.True(t, created)
		}

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 10)
		for i, m := range got.Messages {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
			assert.Equal(t, int64(i+1), m.Seq)
		}
		assert.Equal(t, int64(11), got.Revision)
	})

	t.Run("concurrent appends lose nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "concurrency")

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sender := model.SenderCustomer
				if i%2 == 1 {
					sender = model.SenderExpert
				}
				_, _, err := s.AppendMessage(ctx, task.ID, newMessage(sender, fmt.Sprintf("w%d", i)))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, writers)
		seen := map[string]bool{}
		for _, m := range got.Messages {
			seen[m.Content] = true
		}
		assert.Len(t, seen, writers)
	})

	t.Run("append is idempotent on client id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "idempotent")

		msg := newMessage(model.SenderCustomer, "hello")
		msg.ClientID = "c-1"
		first, created, err := s.AppendMessage(ctx, task.ID, msg)
		require.NoError(t, err)
		require.True(t, created)

		retry := newMessage(model.SenderCustomer, "hello")
		retry.ClientID = "c-1"
		second, created, err := s.AppendMessage(ctx, task.ID, retry)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Len(t, got.Messages, 1)
	})

	t.Run("append to missing task", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.AppendMessage(context.Background(), "missing", newMessage(model.SenderCustomer, "x"))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "reads")

		for _, m := range []model.Message{
			newMessage(model.SenderExpert, "a"),
			newMessage(model.SenderExpert, "b"),
			newMessage(model.SenderCustomer, "c"),
		} {
			_, _, err := s.AppendMessage(ctx, task.ID, m)
			require.NoError(t, err)
		}

		n, err := s.MarkRead(ctx, task.ID, model.SenderExpert)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		first, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)

		n, err = s.MarkRead(ctx, task.ID, model.SenderExpert)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		second, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Revision, second.Revision)
		assert.Equal(t, first.Messages, second.Messages)
		assert.Equal(t, 1, model.UnreadCount(second, model.RoleExpert))
		assert.Equal(t, 0, model.UnreadCount(second, model.RoleCustomer))

		_, err = s.MarkRead(ctx, "missing", model.SenderExpert)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update is compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "cas")

		est := &model.Estimate{Hours: 8, Price: 320, Rate: 40, ProvidedBy: "dana@rapidworks.io"}
		offer := newMessage(model.SenderExpert, model.RenderPriceOffer(*est))
		offer.Type = model.MessageTypePriceOffer

		u := store.UpdateFrom(task)
		u.Status = model.StatusEstimateProvided
		u.Estimate = est
		u.UpdatedAt = time.Now().UTC()
		u.Append = []model.Message{offer}

		rev, err := s.UpdateTask(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rev)

		// Same expected revision again must conflict.
		_, err = s.UpdateTask(ctx, u)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusEstimateProvided, got.Status)
		require.NotNil(t, got.Estimate)
		assert.Equal(t, 320.0, got.Estimate.Price)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, model.MessageTypePriceOffer, got.Messages[0].Type)

		edit := store.UpdateFrom(got)
		edit.Estimate = &model.Estimate{Hours: 8, Price: 450, Rate: 56.25}
		edit.Rewrite = []model.Message{{ID: offer.ID, Content: model.RenderPriceOffer(*edit.Estimate)}}
		_, err = s.UpdateTask(ctx, edit)
		require.NoError(t, err)

		got, err = s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, 450.0, got.Estimate.Price)
		assert.Contains(t, got.Messages[0].Content, "$450")

		missing := store.UpdateFrom(task)
		missing.ID = "missing"
		_, err = s.UpdateTask(ctx, missing)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("failed update leaves task untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		task := testutil.SeedTask(t, s, "atomic")

		first := newMessage(model.SenderCustomer, "hello")
		_, _, err := s.AppendMessage(ctx, task.ID, first)
		require.NoError(t, err)
		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)

		est := &model.Estimate{Hours: 8, Price: 320, Rate: 40}
		offer := newMessage(model.SenderExpert, model.RenderPriceOffer(*est))
		offer.Type = model.MessageTypePriceOffer
		clash := newMessage(model.SenderSystem, "duplicate id")
		clash.ID = first.ID

		u := store.UpdateFrom(got)
		u.Status = model.StatusEstimateProvided
		u.Estimate = est
		u.UpdatedAt = time.Now().UTC()
		u.Rewrite = []model.Message{{ID: first.ID, Content: "rewritten"}}
		u.Append = []model.Message{offer, clash}

		_, err = s.UpdateTask(ctx, u)
		require.Error(t, err)

		after, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, after.Status)
		assert.Nil(t, after.Estimate)
		assert.Equal(t, got.Revision, after.Revision)
		require.Len(t, after.Messages, 1)
		assert.Equal(t, "hello", after.Messages[0].Content)

		// The same update without the clash still applies at the old revision.
		u.Append = []model.Message{offer}
		rev, err := s.UpdateTask(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, got.Revision+1, rev)

		after, err = s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, after.Messages, 2)
		assert.Equal(t, int64(2), after.Messages[1].Seq)
	})

	t.Run("list filters and revisions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := testutil.SeedTask(t, s, "Logo redesign")
		b := testutil.NewTask("Landing page")
		b.UserID = "user-2"
		require.NoError(t, s.CreateTask(ctx, b))
		_, _, err := s.AppendMessage(ctx, b.ID, newMessage(model.SenderCustomer, "hi"))
		require.NoError(t, err)

		user := "user-1"
		tasks, err := s.ListTasks(ctx, store.TaskFilter{UserID: &user})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, a.ID, tasks[0].ID)

		expert := "DANA@rapidworks.io"
		tasks, err = s.ListTasks(ctx, store.TaskFilter{ExpertEmail: &expert, SortBy: "task_name"})
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "Landing page", tasks[0].TaskName)
		assert.Len(t, tasks[0].Messages, 1)

		q := "logo"
		tasks, err = s.ListTasks(ctx, store.TaskFilter{Query: &q})
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		revs, err := s.Revisions(ctx, []string{a.ID, b.ID, "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{a.ID: 1, b.ID: 2}, revs)
	})
}
