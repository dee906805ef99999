package chat

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidworks/expertdesk/internal/keys"
	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/tests/testutil"
)

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// open subscribes m to taskID and applies the first snapshot.
func open(t *testing.T, m Model, taskID string) Model {
	t.Helper()

	cmd := m.Open(taskID)
	require.NotNil(t, cmd)
	m, wait := m.Update(cmd())
	require.NotNil(t, wait, "subscription failed: %v", m.err)
	m, _ = m.Update(wait())
	require.NotNil(t, m.Task())
	t.Cleanup(m.Close)
	return m
}

func TestComposeAndSend(t *testing.T) {
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)

	m := open(t, New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30), task.ID)
	assert.Contains(t, m.View(), "Logo redesign")
	assert.False(t, m.Capturing())

	m, _ = m.Update(keyRunes("i"))
	require.True(t, m.Capturing())

	m, _ = m.Update(keyRunes("hello"))
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.Len(t, m.state.Pending, 1)
	assert.Contains(t, m.View(), "sending...")

	m, _ = m.Update(cmd())
	assert.Empty(t, m.state.Pending)
	tl := m.state.Timeline()
	require.Len(t, tl, 1)
	assert.Equal(t, "hello", tl[0].Message.Content)
	assert.NotEmpty(t, tl[0].Message.ID)

	stored, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.Capturing())
}

func TestFailedSendCanBeRetried(t *testing.T) {
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)

	m := open(t, New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30), task.ID)

	p := m.state.Submit("hello")
	m, _ = m.Update(sendResultMsg{taskID: task.ID, clientID: p.ClientID, err: assert.AnError})
	require.Len(t, m.state.Failed(), 1)
	assert.Contains(t, m.View(), "not sent")
	assert.Contains(t, m.Hints(), "r: retry")

	m, cmd := m.Update(keyRunes("r"))
	require.NotNil(t, cmd)
	assert.Empty(t, m.state.Failed())

	m, _ = m.Update(cmd())
	assert.Empty(t, m.state.Pending)
	require.Len(t, m.state.Timeline(), 1)
	assert.Equal(t, p.ClientID, m.state.Timeline()[0].Message.ClientID)
}

func TestEstimateRoundTrip(t *testing.T) {
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)
	km := keys.DefaultKeyMap()

	customer := open(t, New(svc, testutil.Customer, km, 80, 30), task.ID)
	_, cmd := customer.Update(keyRunes("e"))
	assert.Nil(t, cmd, "customers cannot estimate")

	expert := open(t, New(svc, testutil.Expert, km, 80, 30), task.ID)
	assert.Contains(t, expert.Hints(), "e: send estimate")
	_, cmd = expert.Update(keyRunes("e"))
	require.NotNil(t, cmd)
	req, ok := cmd().(EstimateRequestMsg)
	require.True(t, ok)
	assert.False(t, req.Edit)
	assert.Equal(t, task.ID, req.Task.ID)

	cmd = expert.RunEstimate(task.ID, lifecycle.EstimateInput{Hours: 8, Price: 320, Deadline: "3 business days"}, false)
	require.NotNil(t, cmd)
	expert, _ = expert.Update(cmd())
	require.NoError(t, expert.err)
	assert.Equal(t, model.StatusEstimateProvided, expert.Task().Status)
	assert.Contains(t, expert.View(), "Rate: $40/h")
	assert.Contains(t, expert.Hints(), "e: edit estimate")

	snap, err := svc.Get(context.Background(), testutil.Customer, task.ID)
	require.NoError(t, err)
	customer, _ = customer.Update(SnapshotMsg{TaskID: task.ID, Task: snap, gen: customer.gen})
	assert.Contains(t, customer.Hints(), "a: accept")

	_, cmd = customer.Update(keyRunes("a"))
	require.NotNil(t, cmd)
	res, ok := cmd().(ActionResultMsg)
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, model.StatusAccepted, res.Task.Status)
	require.NotNil(t, res.Task.Invoice)
	assert.Equal(t, 320.0, res.Task.Invoice.Price)
}

func TestActionErrorIsShown(t *testing.T) {
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)

	m := open(t, New(svc, testutil.Expert, keys.DefaultKeyMap(), 80, 30), task.ID)
	m, _ = m.Update(ActionResultMsg{TaskID: task.ID, Action: "starting work", Err: lifecycle.ErrIllegalTransition})
	assert.ErrorIs(t, m.err, lifecycle.ErrIllegalTransition)
	assert.Contains(t, m.View(), "starting work")

	_, cmd := m.Update(keyRunes("s"))
	assert.Nil(t, cmd, "start is not offered on a pending task")
}

func TestUnreadSnapshotMarksRead(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)

	_, err := svc.AppendMessage(ctx, testutil.Expert, task.ID, lifecycle.MessageInput{Content: "hi Ann"})
	require.NoError(t, err)

	m := New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30)
	m, wait := m.Update(m.Open(task.ID)())
	t.Cleanup(m.Close)
	m, cmd := m.Update(wait())
	require.NotNil(t, cmd)
	assert.True(t, m.markingRead)

	m, _ = m.Update(m.markRead()())
	assert.False(t, m.markingRead)
	assert.NoError(t, m.err)

	stored, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, model.UnreadCount(stored, model.RoleCustomer))
}

func TestStaleMessagesIgnoredAfterBack(t *testing.T) {
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)

	m := open(t, New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30), task.ID)
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	_, ok := cmd().(BackMsg)
	assert.True(t, ok)
	assert.Empty(t, m.TaskID())

	m, _ = m.Update(SnapshotMsg{TaskID: task.ID})
	assert.NoError(t, m.err, "closed subscription of a left task is not an error")
}

func TestSubscribeErrorIsShown(t *testing.T) {
	st := testutil.NewTestStore(t)
	svc := lifecycle.NewService(st)

	m := New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30)
	m, cmd := m.Update(m.Open("missing")())
	t.Cleanup(m.Close)
	assert.Nil(t, cmd)
	assert.ErrorIs(t, m.err, lifecycle.ErrNotFound)
	assert.Contains(t, m.View(), "not found")
}

func TestReopenIgnoresOldSubscription(t *testing.T) {
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)

	m := open(t, New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30), task.ID)
	oldWait := m.nextSnapshot()
	require.NotNil(t, oldWait)
	m.err = errSubscriptionClosed

	m, cmd := m.Update(keyRunes("R"))
	require.NotNil(t, cmd)
	m, wait := m.Update(cmd())
	t.Cleanup(m.Close)
	require.NotNil(t, wait)
	assert.NoError(t, m.err, "a fresh subscription clears the reconnect banner")

	// The reopen cancelled the old subscription, so its pending wait now
	// reports a close.
	stale := oldWait()
	closed, ok := stale.(SnapshotMsg)
	require.True(t, ok)
	require.Nil(t, closed.Task)

	m, _ = m.Update(stale)
	assert.NoError(t, m.err)
	assert.NotNil(t, m.sub, "live updates keep flowing")

	m, _ = m.Update(wait())
	require.NotNil(t, m.Task())
	assert.Equal(t, task.ID, m.Task().ID)
}

func TestSecondActionWhileBusyIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	task := testutil.SeedTask(t, st, "Logo redesign")
	svc := lifecycle.NewService(st)
	_, err := svc.SendEstimate(ctx, testutil.Expert, task.ID, lifecycle.EstimateInput{Hours: 8, Price: 320})
	require.NoError(t, err)

	m := open(t, New(svc, testutil.Customer, keys.DefaultKeyMap(), 80, 30), task.ID)
	require.True(t, m.state.CanRespond())

	m, first := m.Update(keyRunes("a"))
	require.NotNil(t, first)
	assert.Equal(t, "accepting estimate", m.Busy())
	assert.Contains(t, m.View(), "accepting estimate...")

	m, second := m.Update(keyRunes("a"))
	assert.Nil(t, second, "accept is already in flight")
	_, decline := m.Update(keyRunes("d"))
	assert.Nil(t, decline)

	m, _ = m.Update(first())
	assert.Empty(t, m.Busy())
	assert.NoError(t, m.err)
	assert.Equal(t, model.StatusAccepted, m.Task().Status)
}
