package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rapidworks/expertdesk/internal/keys"
	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	appsync "github.com/rapidworks/expertdesk/internal/sync"
	"github.com/rapidworks/expertdesk/internal/ui"
	"github.com/rapidworks/expertdesk/internal/ui/chat"
	"github.com/rapidworks/expertdesk/internal/ui/command"
	"github.com/rapidworks/expertdesk/internal/ui/estimateform"
	helpview "github.com/rapidworks/expertdesk/internal/ui/help"
	"github.com/rapidworks/expertdesk/internal/ui/taskform"
	"github.com/rapidworks/expertdesk/internal/ui/tasklist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewChat
	ViewHelp
	ViewCommand
	ViewTaskForm
	ViewEstimateForm
)

// Model is the root Bubble Tea model that manages view routing,
// layout, and access to the lifecycle service.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	svc          *lifecycle.Service
	watcher      *appsync.Watcher
	principal    model.Principal
	keys         *keys.KeyMap
	taskList     tasklist.Model
	chat         chat.Model
	helpView     helpview.Model
	commandView  command.Model
	taskForm     taskform.Model
	estimateForm estimateform.Model
	ready        bool
	unread       int
	flash        string
	errMessage   string
}

// New creates the root model for principal p. The role carried by p is
// resolved by the caller once per session.
func New(svc *lifecycle.Service, w *appsync.Watcher, p model.Principal, experts []model.ExpertConfig) Model {
	k := keys.DefaultKeyMap()
	return Model{
		currentView:  ViewList,
		svc:          svc,
		watcher:      w,
		principal:    p,
		keys:         k,
		taskList:     tasklist.New(svc, p, k, 80, 24),
		chat:         chat.New(svc, p, k, 80, 24),
		helpView:     helpview.New(k, p.Role, 80, 24),
		commandView:  command.New(p.Role, 80, 24),
		taskForm:     taskform.New(experts, 80, 24),
		estimateForm: estimateform.New(80, 24),
	}
}

// Init loads the task list and starts watching for foreign writes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.taskList.Init(),
		m.watcher.Start(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if chat.Handles(msg) {
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.taskList.SetSize(contentWidth, contentHeight)
		m.chat.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		m.taskForm.SetSize(contentWidth, contentHeight)
		m.estimateForm.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case tasklist.TasksLoadedMsg:
		var cmd tea.Cmd
		m.taskList, cmd = m.taskList.Update(msg)
		m.trackListed()
		return m, cmd

	case appsync.ChangedMsg:
		if msg.Error != nil {
			m.errMessage = "sync: " + msg.Error.Error()
		} else {
			m.errMessage = ""
		}
		// Open chats are refreshed through their subscription; the list
		// is reloaded here.
		return m, tea.Batch(m.taskList.LoadTasks(), m.watcher.WaitForNextResult())

	case tasklist.SelectedTaskMsg:
		m.previousView = m.currentView
		m.currentView = ViewChat
		cmd := m.chat.Open(msg.TaskID)
		return m, cmd

	case tasklist.NewTaskMsg:
		m.previousView = m.currentView
		m.currentView = ViewTaskForm
		return m, m.taskForm.Start()

	case taskform.SubmittedMsg:
		m.currentView = ViewList
		return m, m.createTask(msg)

	case taskform.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case taskCreatedMsg:
		if msg.err != nil {
			m.errMessage = "creating task: " + msg.err.Error()
			return m, nil
		}
		m.errMessage = ""
		m.flash = "Task created"
		return m, m.taskList.LoadTasks()

	case chat.BackMsg:
		m.currentView = ViewList
		return m, m.taskList.LoadTasks()

	case chat.EstimateRequestMsg:
		m.previousView = ViewChat
		m.currentView = ViewEstimateForm
		if msg.Edit {
			return m, m.estimateForm.StartEdit(msg.Task)
		}
		return m, m.estimateForm.StartSend(msg.Task)

	case estimateform.SubmittedMsg:
		m.currentView = ViewChat
		cmd := m.chat.RunEstimate(msg.TaskID, msg.Input, msg.Edit)
		return m, cmd

	case estimateform.CancelMsg:
		m.currentView = ViewChat
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case flashMsg:
		m.flash = string(msg)
		return m, nil

	case tea.KeyMsg:
		m.flash = ""
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.capturing() {
			break
		}

		switch msg.String() {
		case "q":
			if m.currentView == ViewList {
				return m, m.quit()
			}

		case "?":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case ":":
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case "esc":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// capturing reports whether the active view consumes raw key input.
func (m Model) capturing() bool {
	switch m.currentView {
	case ViewList:
		return m.taskList.Searching()
	case ViewChat:
		return m.chat.Capturing()
	case ViewTaskForm, ViewEstimateForm:
		return true
	case ViewCommand:
		return true
	}
	return false
}

func (m *Model) trackListed() {
	tasks := m.taskList.Tasks()
	ids := make([]string, len(tasks))
	m.unread = 0
	for i := range tasks {
		ids[i] = tasks[i].ID
		m.unread += model.UnreadCount(&tasks[i], m.principal.Role)
	}
	m.watcher.Track(ids...)
}

func (m *Model) quit() tea.Cmd {
	m.chat.Close()
	m.watcher.Stop()
	return tea.Quit
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.taskList, cmd = m.taskList.Update(msg)
	case ViewChat:
		m.chat, cmd = m.chat.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		if km, ok := msg.(tea.KeyMsg); ok && km.String() == "esc" {
			m.currentView = m.previousView
			return m, nil
		}
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewTaskForm:
		m.taskForm, cmd = m.taskForm.Update(msg)
	case ViewEstimateForm:
		m.estimateForm, cmd = m.estimateForm.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Expert Desk", m.unread, m.identity())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.errMessage)

	return m.layout.RenderWithFrame(header, content, statusBar)
}

func (m Model) identity() string {
	name := m.principal.Name
	if name == "" {
		name = m.principal.Email
	}
	return fmt.Sprintf("%s (%s)", name, m.principal.Role)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.taskList.View()
	case ViewChat:
		return m.chat.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewTaskForm:
		return m.taskForm.View()
	case ViewEstimateForm:
		return m.estimateForm.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.flash != "" {
		return m.flash
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewChat:
		return m.chat.Hints()
	case ViewTaskForm, ViewEstimateForm:
		return "enter submit | esc cancel"
	default:
		if m.principal.Role == model.RoleExpert {
			return "q quit | ? help | enter open | / search | tab status"
		}
		return "q quit | ? help | enter open | n new | / search | tab status"
	}
}
