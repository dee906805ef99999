package tasklist

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

func setup(t *testing.T, p model.Principal) (Model, *lifecycle.Service, string) {
	t.Helper()
	svc := lifecycle.NewService(testutil.NewTestStore(t))
	id, err := svc.CreateTask(context.Background(), testutil.Customer, lifecycle.CreateTaskInput{
		ExpertEmail: testutil.Expert.Email,
		ExpertName:  testutil.Expert.Name,
		TaskName:    "Logo redesign",
	})
	require.NoError(t, err)
	return New(svc, p, keys.DefaultKeyMap(), 80, 24), svc, id
}

func load(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.LoadTasks()()
	m, _ = m.Update(msg)
	return m
}

func TestLoadShowsUnreadCounts(t *testing.T) {
	m, svc, id := setup(t, testutil.Customer)
	_, err := svc.AppendMessage(context.Background(), testutil.Expert, id, lifecycle.MessageInput{Content: "hi"})
	require.NoError(t, err)

	m = load(t, m)
	require.Len(t, m.Tasks(), 1)
	item, ok := m.list.SelectedItem().(TaskItem)
	require.True(t, ok)
	assert.Equal(t, 1, item.Unread)
	assert.Contains(t, m.View(), "Logo redesign")
}

func TestSelectEmitsTaskID(t *testing.T) {
	m, _, id := setup(t, testutil.Customer)
	m = load(t, m)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, SelectedTaskMsg{TaskID: id}, cmd())
}

func TestNewTaskOnlyForCustomers(t *testing.T) {
	m, _, _ := setup(t, testutil.Expert)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Nil(t, cmd)

	c, _, _ := setup(t, testutil.Customer)
	_, cmd = c.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	require.NotNil(t, cmd)
	assert.Equal(t, NewTaskMsg{}, cmd())
}

func TestCycleStatusFilter(t *testing.T) {
	m, _, _ := setup(t, testutil.Expert)
	m = load(t, m)
	require.Len(t, m.Tasks(), 1)

	// pending
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m, _ = m.Update(cmd())
	assert.Len(t, m.Tasks(), 1)

	// estimate_provided
	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m, _ = m.Update(cmd())
	assert.Empty(t, m.Tasks())
	assert.Contains(t, m.View(), "No matching tasks")
}
