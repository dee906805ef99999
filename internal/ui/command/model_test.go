package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidworks/expertdesk/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Command
		wantErr bool
	}{
		{raw: "refresh", want: Command{Name: CmdRefresh}},
		{raw: "q", want: Command{Name: CmdQuit}},
		{raw: "  READ ", want: Command{Name: CmdRead}},
		{raw: "status completed", want: Command{Name: CmdStatus, Status: model.StatusCompleted}},
		{raw: "force pending", want: Command{Name: CmdForce, Status: model.StatusPending}},
		{raw: "status", wantErr: true},
		{raw: "status done", wantErr: true},
		{raw: "quit now", wantErr: true},
		{raw: "launch", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(CommandMsg(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnterEmitsCommand(t *testing.T) {
	m := New(model.RoleCustomer, 80, 24)
	for _, r := range "read" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, CommandMsg("read"), cmd())
	assert.Empty(t, m.input.Value())
}

func TestSuggestionsByRole(t *testing.T) {
	customer := Suggestions(model.RoleCustomer)
	assert.Contains(t, customer, "status accepted")
	assert.NotContains(t, customer, "force accepted")

	admin := Suggestions(model.RoleAdmin)
	assert.Contains(t, admin, "force completed")
	assert.Len(t, admin, len(customer)+len(model.AllStatuses))
}

func TestMatchesFiltersByPrefix(t *testing.T) {
	m := New(model.RoleExpert, 80, 24)
	for _, r := range "status i" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	assert.Equal(t, []string{"status in_progress"}, m.Matches())

	m.input.SetValue("launch")
	assert.Empty(t, m.Matches())
	assert.Contains(t, m.View(), "no matching command")
}
