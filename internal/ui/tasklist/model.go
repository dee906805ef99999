package tasklist

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/keys"
	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// Lister loads the tasks visible to a principal.
type Lister interface {
	List(ctx context.Context, p model.Principal, opts lifecycle.ListOptions) ([]model.TaskRequest, error)
}

// TasksLoadedMsg is sent when tasks have been loaded.
type TasksLoadedMsg struct {
	Tasks []model.TaskRequest
	Err   error
}

// SelectedTaskMsg is sent when a user opens a task's chat.
type SelectedTaskMsg struct {
	TaskID string
}

// NewTaskMsg is sent when a customer asks to create a task.
type NewTaskMsg struct{}

// statusFilters is the cycle of status filters; nil shows every task.
var statusFilters = append([]*model.Status{nil}, statusPtrs(model.AllStatuses)...)

func statusPtrs(in []model.Status) []*model.Status {
	out := make([]*model.Status, len(in))
	for i := range in {
		s := in[i]
		out[i] = &s
	}
	return out
}

// Model is the task list view component.
type Model struct {
	list        list.Model
	lister      Lister
	principal   model.Principal
	keys        *keys.KeyMap
	opts        lifecycle.ListOptions
	filterIndex int
	searchMode  bool
	searchInput textinput.Model
	err         error
	width       int
	height      int
}

// New creates a new task list model.
func New(l Lister, p model.Principal, k *keys.KeyMap, width, height int) Model {
	delegate := TaskDelegate{Role: p.Role}
	lm := list.New([]list.Item{}, delegate, width, height-2)
	lm.Title = title(nil)
	lm.SetShowStatusBar(true)
	lm.SetShowHelp(false)
	lm.SetFilteringEnabled(false)
	lm.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search tasks..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        lm,
		lister:      l,
		principal:   p,
		keys:        k,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

func title(status *model.Status) string {
	if status == nil {
		return "Tasks"
	}
	return "Tasks: " + status.Label()
}

// Init returns a command that loads the initial set of tasks.
func (m Model) Init() tea.Cmd {
	return m.LoadTasks()
}

// Update handles messages for the task list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TasksLoadedMsg:
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		items := make([]list.Item, len(msg.Tasks))
		for i, task := range msg.Tasks {
			items[i] = TaskItem{Task: task, Unread: model.UnreadCount(&msg.Tasks[i], m.principal.Role)}
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.opts.Query = m.searchInput.Value()
		return m, m.LoadTasks()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.opts.Query = ""
		return m, m.LoadTasks()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		item, ok := m.list.SelectedItem().(TaskItem)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedTaskMsg{TaskID: item.Task.ID}
		}

	case key.Matches(msg, m.keys.NewTask):
		if m.principal.Role == model.RoleExpert {
			return m, nil
		}
		return m, func() tea.Msg { return NewTaskMsg{} }

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.CycleStatus):
		m.filterIndex = (m.filterIndex + 1) % len(statusFilters)
		m.opts.Status = statusFilters[m.filterIndex]
		m.list.Title = title(m.opts.Status)
		return m, m.LoadTasks()

	case key.Matches(msg, m.keys.Refresh):
		return m, m.LoadTasks()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the task list view.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if m.err != nil {
		return m.centered(fmt.Sprintf("Could not load tasks.\n%v", m.err))
	}
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

// renderEmptyState shows guidance text when no tasks are available.
func (m Model) renderEmptyState() string {
	if m.opts.Status != nil || m.opts.Query != "" {
		return m.centered("No matching tasks.\nPress tab to change the status filter.")
	}
	if m.principal.Role == model.RoleExpert {
		return m.centered("No tasks have been addressed to you yet.")
	}
	return m.centered("No tasks yet.\n\nPress n to request one from an expert.")
}

func (m Model) centered(text string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(text)
}

// Tasks returns the tasks currently listed.
func (m Model) Tasks() []model.TaskRequest {
	items := m.list.Items()
	out := make([]model.TaskRequest, 0, len(items))
	for _, it := range items {
		if ti, ok := it.(TaskItem); ok {
			out = append(out, ti.Task)
		}
	}
	return out
}

// LoadTasks returns a tea.Cmd that lists tasks with the current filter.
func (m Model) LoadTasks() tea.Cmd {
	opts := m.opts
	l := m.lister
	p := m.principal
	return func() tea.Msg {
		tasks, err := l.List(context.Background(), p, opts)
		return TasksLoadedMsg{Tasks: tasks, Err: err}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}
