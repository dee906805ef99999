package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidworks/expertdesk/internal/attachment"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/notify"
	"github.com/rapidworks/expertdesk/internal/store"
	"github.com/rapidworks/expertdesk/tests/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, store.Store, *recordingNotifier) {
	t.Helper()
	st := testutil.NewTestStore(t)
	rec := &recordingNotifier{}
	opts = append([]Option{WithClock(stepClock()), WithNotifier(rec)}, opts...)
	return NewService(st, opts...), st, rec
}

func createTask(t *testing.T, svc *Service, name string) string {
	t.Helper()
	id, err := svc.CreateTask(context.Background(), testutil.Customer, CreateTaskInput{
		ExpertEmail:     testutil.Expert.Email,
		ExpertName:      testutil.Expert.Name,
		ExpertType:      "designer",
		TaskName:        name,
		TaskDescription: "A fresh logo for the bakery.",
	})
	require.NoError(t, err)
	return id
}

func countType(task *model.TaskRequest, typ model.MessageType) int {
	n := 0
	for _, m := range task.Messages {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func TestEndToEndEstimateAcceptance(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newTestService(t)

	id := createTask(t, svc, "Logo redesign")
	task, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Empty(t, task.Messages)

	task, err = svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320, Deadline: "3 business days"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEstimateProvided, task.Status)
	require.NotNil(t, task.Estimate)
	assert.Equal(t, 40.0, task.Estimate.Rate)
	assert.Equal(t, 1, countType(task, model.MessageTypePriceOffer))

	task, err = svc.AcceptEstimate(ctx, testutil.Customer, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, task.Status)
	require.NotNil(t, task.Invoice)
	assert.Equal(t, 320.0, task.Invoice.Price)
	assert.Equal(t, model.InvoiceStatusPendingWork, task.Invoice.Status)
	assert.Equal(t, 1, countType(task, model.MessageTypeStatusUpdate))

	last := task.Messages[len(task.Messages)-1]
	assert.Equal(t, model.SenderSystem, last.Sender)
	assert.Contains(t, last.Content, "accepted")

	task, err = svc.StartWork(ctx, testutil.Expert, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, task.Status)

	task, err = svc.Complete(ctx, testutil.Expert, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)

	assert.Equal(t, []notify.Kind{
		notify.TaskCreated, notify.EstimateSent, notify.EstimateAccepted, notify.TaskCompleted,
	}, rec.kinds())
}

func TestEditEstimateRewritesPriceOffer(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	_, err := svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)
	_, err = svc.EditEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 450})
	require.NoError(t, err)

	fresh, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEstimateProvided, fresh.Status)
	assert.Equal(t, 450.0, fresh.Estimate.Price)
	assert.Equal(t, 56.25, fresh.Estimate.Rate)

	require.Equal(t, 1, countType(fresh, model.MessageTypePriceOffer))
	offer, ok := fresh.PriceOffer()
	require.True(t, ok)
	assert.Contains(t, offer.Content, "$450")
	assert.NotContains(t, offer.Content, "320")
	assert.Contains(t, model.RenderMessage(fresh, offer), "$450")
}

func TestTransitionLegality(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	_, err := svc.UpdateStatus(ctx, testutil.Admin, id, model.StatusCompleted, StatusPatch{})
	require.ErrorIs(t, err, ErrIllegalTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.StatusPending, te.From)

	steps := []model.Status{
		model.StatusEstimateProvided,
		model.StatusAccepted,
		model.StatusInProgress,
		model.StatusCompleted,
	}
	for _, to := range steps {
		task, err := svc.UpdateStatus(ctx, testutil.Admin, id, to, StatusPatch{})
		require.NoError(t, err, "moving to %s", to)
		assert.Equal(t, to, task.Status)
	}

	task, err := svc.Get(ctx, testutil.Admin, id)
	require.NoError(t, err)
	require.NotNil(t, task.CompletedAt)

	_, err = svc.UpdateStatus(ctx, testutil.Admin, id, model.StatusPending, StatusPatch{})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.UpdateStatus(ctx, testutil.Admin, id, model.Status("archived"), StatusPatch{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoleGuards(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	_, err := svc.SendEstimate(ctx, testutil.Customer, id, EstimateInput{Hours: 1, Price: 1})
	assert.ErrorIs(t, err, ErrForbidden)

	stranger := model.Principal{UserID: "user-9", Email: "eve@example.com", Role: model.RoleCustomer}
	_, err = svc.Get(ctx, stranger, id)
	assert.ErrorIs(t, err, ErrForbidden)

	otherExpert := model.Principal{Email: "sam@rapidworks.io", Role: model.RoleExpert}
	_, err = svc.SendEstimate(ctx, otherExpert, id, EstimateInput{Hours: 1, Price: 1})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)

	_, err = svc.AcceptEstimate(ctx, testutil.Expert, id)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ForceStatus(ctx, testutil.Expert, id, model.StatusCompleted, StatusPatch{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateTask(ctx, testutil.Expert, CreateTaskInput{TaskName: "x", ExpertEmail: "y"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendEstimateTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	_, err := svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)
	_, err = svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 0, Price: 320})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeclineEstimate(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	_, err := svc.DeclineEstimate(ctx, testutil.Customer, id, "too early")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)

	task, err := svc.DeclineEstimate(ctx, testutil.Customer, id, "  Too expensive  ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, task.Status)
	assert.Equal(t, "Too expensive", task.DeclineFeedback)
	assert.Nil(t, task.Invoice)
	assert.Equal(t, 1, countType(task, model.MessageTypeStatusUpdate))
	assert.Contains(t, rec.kinds(), notify.EstimateDeclined)

	_, err = svc.AcceptEstimate(ctx, testutil.Customer, id)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestForceStatusOverridesTable(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	task, err := svc.ForceStatus(ctx, testutil.Admin, id, model.StatusCompleted, StatusPatch{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)
	require.Len(t, task.Messages, 1)
	assert.Equal(t, model.MessageTypeStatusUpdate, task.Messages[0].Type)
}

func TestAppendMessagesSeriallyAndConcurrently(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	for i := 0; i < 5; i++ {
		_, err := svc.AppendMessage(ctx, testutil.Customer, id, MessageInput{Content: fmt.Sprintf("serial %d", i)})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, p := range []model.Principal{testutil.Customer, testutil.Expert} {
		wg.Add(1)
		go func(p model.Principal) {
			defer wg.Done()
			_, err := svc.AppendMessage(ctx, p, id, MessageInput{Content: "from " + string(p.Role)})
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	task, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)
	require.Len(t, task.Messages, 7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("serial %d", i), task.Messages[i].Content)
	}
	tail := []string{task.Messages[5].Content, task.Messages[6].Content}
	assert.ElementsMatch(t, []string{"from customer", "from expert"}, tail)

	_, err = svc.AppendMessage(ctx, testutil.Customer, id, MessageInput{Content: "   "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAppendMessageIsIdempotentOnClientID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	first, err := svc.AppendMessage(ctx, testutil.Customer, id, MessageInput{ClientID: "c-1", Content: "hello"})
	require.NoError(t, err)
	second, err := svc.AppendMessage(ctx, testutil.Customer, id, MessageInput{ClientID: "c-1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	task, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)
	assert.Len(t, task.Messages, 1)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	_, err := svc.AppendMessage(ctx, testutil.Expert, id, MessageInput{Content: "hi"})
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, testutil.Customer, id, MessageInput{Content: "hello"})
	require.NoError(t, err)

	n, err := svc.MarkRead(ctx, testutil.Customer, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	after1, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)

	n, err = svc.MarkRead(ctx, testutil.Customer, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	after2, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)

	assert.Equal(t, after1.Messages, after2.Messages)
	assert.Equal(t, after1.Revision, after2.Revision)
	assert.Equal(t, 0, model.UnreadCount(after2, model.RoleCustomer))
	assert.Equal(t, 1, model.UnreadCount(after2, model.RoleExpert))
}

func TestSubscribeDeliversSnapshotsAndEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	ch, err := svc.Subscribe(ctx, testutil.Customer, id)
	require.NoError(t, err)

	first := receive(t, ch)
	assert.Equal(t, id, first.ID)
	assert.Empty(t, first.Messages)

	_, err = svc.AppendMessage(ctx, testutil.Customer, id, MessageInput{Content: "echo me"})
	require.NoError(t, err)

	echo := receive(t, ch)
	require.Len(t, echo.Messages, 1)
	assert.Equal(t, "echo me", echo.Messages[0].Content)
	assert.Greater(t, echo.Revision, first.Revision)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, svc.Hub().Topics())
}

func TestSubscribeRequiresAccess(t *testing.T) {
	svc, _, _ := newTestService(t)
	id := createTask(t, svc, "Logo redesign")

	stranger := model.Principal{UserID: "user-9", Role: model.RoleCustomer}
	_, err := svc.Subscribe(context.Background(), stranger, id)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, svc.Hub().Topics())

	_, err = svc.Subscribe(context.Background(), testutil.Customer, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func receive(t *testing.T, ch <-chan *model.TaskRequest) *model.TaskRequest {
	t.Helper()
	select {
	case task, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// racingStore commits a competing append right before the first UpdateTask,
// forcing a revision conflict.
type racingStore struct {
	store.Store
	once sync.Once
}

func (r *racingStore) UpdateTask(ctx context.Context, u store.TaskUpdate) (int64, error) {
	r.once.Do(func() {
		_, _, _ = r.Store.AppendMessage(ctx, u.ID, model.Message{
			ID:        uuid.NewString(),
			Sender:    model.SenderCustomer,
			Type:      model.MessageTypePlain,
			Content:   "raced",
			CreatedAt: time.Now(),
		})
	})
	return r.Store.UpdateTask(ctx, u)
}

func TestMutateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Store: testutil.NewTestStore(t)}
	svc := NewService(st, WithClock(stepClock()))
	id := createTask(t, svc, "Logo redesign")

	task, err := svc.SendEstimate(ctx, testutil.Expert, id, EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEstimateProvided, task.Status)
	require.Len(t, task.Messages, 2)
	assert.Equal(t, "raced", task.Messages[0].Content)
	assert.Equal(t, model.MessageTypePriceOffer, task.Messages[1].Type)
}

func TestCreateTaskUploadsAttachments(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	svc, _, _ := newTestService(t, WithAttachments(attachment.NewFSStorage(fs, "https://files.example.com")))

	id, err := svc.CreateTask(ctx, testutil.Customer, CreateTaskInput{
		ExpertEmail: testutil.Expert.Email,
		TaskName:    "Logo redesign",
		Files: []Upload{{
			Name:        "brief.txt",
			ContentType: "text/plain",
			Size:        5,
			Body:        strings.NewReader("hello"),
		}},
	})
	require.NoError(t, err)

	task, err := svc.Get(ctx, testutil.Customer, id)
	require.NoError(t, err)
	require.Len(t, task.Files, 1)
	f := task.Files[0]
	assert.Equal(t, "brief.txt", f.Name)
	assert.True(t, strings.HasPrefix(f.URL, "https://files.example.com/taskAttachments/"+id+"/"))
	assert.True(t, strings.HasSuffix(f.URL, "_brief.txt"))

	key := strings.TrimPrefix(f.URL, "https://files.example.com/")
	data, err := afero.ReadFile(fs, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCreateTaskValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateTask(context.Background(), testutil.Customer, CreateTaskInput{ExpertEmail: "x@y"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "task_name", ve.Field)

	_, err = svc.CreateTask(context.Background(), testutil.Customer, CreateTaskInput{
		TaskName:    "x",
		ExpertEmail: "x@y",
		Files:       []Upload{{Name: "a", Body: strings.NewReader("")}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListScopesByRole(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	a := createTask(t, svc, "Logo redesign")
	_, err := svc.CreateTask(ctx, model.Principal{UserID: "user-2", Email: "bob@example.com", Role: model.RoleCustomer},
		CreateTaskInput{ExpertEmail: "sam@rapidworks.io", TaskName: "Landing page"})
	require.NoError(t, err)

	mine, err := svc.List(ctx, testutil.Customer, ListOptions{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a, mine[0].ID)

	assigned, err := svc.List(ctx, testutil.Expert, ListOptions{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	all, err := svc.List(ctx, testutil.Admin, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.SendEstimate(ctx, testutil.Expert, a, EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)
	_, err = svc.AcceptEstimate(ctx, testutil.Customer, a)
	require.NoError(t, err)

	invoices, err := svc.Invoices(ctx, testutil.Admin)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, 320.0, invoices[0].Invoice.Price)

	_, err = svc.Invoices(ctx, testutil.Customer)
	assert.ErrorIs(t, err, ErrForbidden)
}
