// Package chat is the per-task conversation view. It renders the confirmed
// snapshot plus the local overlay and exposes the lifecycle actions the
// signed-in role may take.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/keys"
	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/session"
)

// actionTimeout bounds a single store round trip started from the view.
const actionTimeout = 15 * time.Second

var errSubscriptionClosed = errors.New("live updates stopped; press R to reconnect")

// Service is the subset of the lifecycle service the chat view drives.
type Service interface {
	Subscribe(ctx context.Context, p model.Principal, taskID string) (<-chan *model.TaskRequest, error)
	AppendMessage(ctx context.Context, p model.Principal, taskID string, in lifecycle.MessageInput) (model.Message, error)
	MarkRead(ctx context.Context, p model.Principal, taskID string) (int, error)
	SendEstimate(ctx context.Context, p model.Principal, taskID string, in lifecycle.EstimateInput) (*model.TaskRequest, error)
	EditEstimate(ctx context.Context, p model.Principal, taskID string, in lifecycle.EstimateInput) (*model.TaskRequest, error)
	AcceptEstimate(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error)
	DeclineEstimate(ctx context.Context, p model.Principal, taskID, feedback string) (*model.TaskRequest, error)
	StartWork(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error)
	Complete(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error)
}

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// EstimateRequestMsg asks the parent to open the estimate form.
type EstimateRequestMsg struct {
	Task *model.TaskRequest
	Edit bool
}

// SnapshotMsg carries a snapshot from the task subscription. A nil Task
// means the subscription ended.
type SnapshotMsg struct {
	TaskID string
	Task   *model.TaskRequest

	// gen identifies the subscription that produced the snapshot.
	gen int
}

// ActionResultMsg reports the outcome of a lifecycle action.
type ActionResultMsg struct {
	TaskID string
	Action string
	Task   *model.TaskRequest
	Err    error
}

type subscribedMsg struct {
	taskID string
	gen    int
	ch     <-chan *model.TaskRequest
	err    error
}

type sendResultMsg struct {
	taskID   string
	clientID string
	message  model.Message
	err      error
}

type markedReadMsg struct {
	taskID string
	err    error
}

// Model is the chat view component.
type Model struct {
	svc       Service
	principal model.Principal
	keys      *keys.KeyMap

	taskID      string
	state       *session.State
	sub         <-chan *model.TaskRequest
	gen         int
	cancel      context.CancelFunc
	markingRead bool

	// busy names the lifecycle action in flight; further actions are
	// ignored until its result arrives.
	busy string

	viewport  viewport.Model
	input     textinput.Model
	composing bool

	declineForm *huh.Form
	feedback    *string

	err    error
	width  int
	height int
}

// New creates a chat view for principal p.
func New(svc Service, p model.Principal, k *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-6)
	vp.Style = lipgloss.NewStyle()

	ti := textinput.New()
	ti.Placeholder = "write a message..."
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Width = width - 6

	return Model{
		svc:       svc,
		principal: p,
		keys:      k,
		state:     session.New(p),
		viewport:  vp,
		input:     ti,
		feedback:  new(string),
		width:     width,
		height:    height,
	}
}

// Open subscribes to taskID, dropping any previous subscription. Messages
// from the dropped subscription are ignored.
func (m *Model) Open(taskID string) tea.Cmd {
	m.Close()
	m.gen++
	m.taskID = taskID
	m.busy = ""
	m.state = session.New(m.principal)
	m.err = nil
	m.composing = false
	m.declineForm = nil
	m.markingRead = false
	m.input.Reset()
	m.viewport.SetContent("")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	svc, p, gen := m.svc, m.principal, m.gen
	return func() tea.Msg {
		ch, err := svc.Subscribe(ctx, p, taskID)
		return subscribedMsg{taskID: taskID, gen: gen, ch: ch, err: err}
	}
}

// Close ends the current subscription.
func (m *Model) Close() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.sub = nil
	m.taskID = ""
}

// TaskID returns the id of the open task.
func (m Model) TaskID() string {
	return m.taskID
}

// Task returns the last confirmed snapshot, or nil before the first one.
func (m Model) Task() *model.TaskRequest {
	return m.state.Confirmed
}

// Capturing reports whether key input is consumed by a text field, so the
// parent must not treat it as a global shortcut.
func (m Model) Capturing() bool {
	return m.composing || m.declineForm != nil
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the chat view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case subscribedMsg:
		if msg.taskID != m.taskID || msg.gen != m.gen {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sub = msg.ch
		if errors.Is(m.err, errSubscriptionClosed) {
			m.err = nil
		}
		return m, m.nextSnapshot()

	case SnapshotMsg:
		if msg.TaskID != m.taskID || msg.gen != m.gen {
			return m, nil
		}
		if msg.Task == nil {
			m.sub = nil
			m.err = errSubscriptionClosed
			return m, nil
		}
		m.state.ApplySnapshot(msg.Task)
		m.refresh()
		cmds := []tea.Cmd{m.nextSnapshot()}
		if m.state.Unread() > 0 && !m.markingRead {
			m.markingRead = true
			cmds = append(cmds, m.markRead())
		}
		return m, tea.Batch(cmds...)

	case markedReadMsg:
		if msg.taskID != m.taskID {
			return m, nil
		}
		m.markingRead = false
		if msg.err != nil {
			m.err = fmt.Errorf("marking messages read: %w", msg.err)
		}
		return m, nil

	case sendResultMsg:
		if msg.taskID != m.taskID {
			return m, nil
		}
		if msg.err != nil {
			m.state.Fail(msg.clientID, msg.err)
		} else {
			m.state.Confirm(msg.message)
		}
		m.refresh()
		return m, nil

	case ActionResultMsg:
		if msg.TaskID != m.taskID {
			return m, nil
		}
		m.busy = ""
		if msg.Err != nil {
			m.err = fmt.Errorf("%s: %w", msg.Action, msg.Err)
			return m, nil
		}
		m.err = nil
		m.state.ApplySnapshot(msg.Task)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.declineForm != nil {
			return m.updateDeclineForm(msg)
		}
		if m.composing {
			return m.handleComposeKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	if m.declineForm != nil {
		return m.updateDeclineForm(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleComposeKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.composing = false
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		content := strings.TrimSpace(m.input.Value())
		if content == "" {
			return m, nil
		}
		m.input.Reset()
		p := m.state.Submit(content)
		m.refresh()
		return m, m.deliver(p)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.Close()
		return m, func() tea.Msg { return BackMsg{} }

	case key.Matches(msg, m.keys.Compose):
		m.composing = true
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Retry):
		failed := m.state.Failed()
		if len(failed) == 0 {
			return m, nil
		}
		p, ok := m.state.Retry(failed[0].ClientID)
		if !ok {
			return m, nil
		}
		m.refresh()
		return m, m.deliver(p)

	case key.Matches(msg, m.keys.Refresh):
		cmd := m.Open(m.taskID)
		return m, cmd

	case key.Matches(msg, m.keys.Estimate):
		task := m.state.Confirmed
		switch {
		case m.state.CanSendEstimate():
			return m, func() tea.Msg { return EstimateRequestMsg{Task: task.Clone()} }
		case m.state.CanEditEstimate():
			return m, func() tea.Msg { return EstimateRequestMsg{Task: task.Clone(), Edit: true} }
		}
		return m, nil

	case key.Matches(msg, m.keys.Accept):
		if !m.state.CanRespond() {
			return m, nil
		}
		cmd := m.start("accepting estimate", m.svc.AcceptEstimate)
		return m, cmd

	case key.Matches(msg, m.keys.Decline):
		if !m.state.CanRespond() || m.busy != "" {
			return m, nil
		}
		cmd := m.startDecline()
		return m, cmd

	case key.Matches(msg, m.keys.Start):
		if !m.state.CanStartWork() {
			return m, nil
		}
		cmd := m.start("starting work", m.svc.StartWork)
		return m, cmd

	case key.Matches(msg, m.keys.Complete):
		if !m.state.CanComplete() {
			return m, nil
		}
		cmd := m.start("completing task", m.svc.Complete)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) startDecline() tea.Cmd {
	*m.feedback = ""
	m.declineForm = huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Why are you declining? (optional)").
				Value(m.feedback).
				CharLimit(2000),
		),
	).WithWidth(m.width - 4).WithShowHelp(false)
	return m.declineForm.Init()
}

func (m Model) updateDeclineForm(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.declineForm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.declineForm = f
	}

	switch m.declineForm.State {
	case huh.StateCompleted:
		m.declineForm = nil
		feedback := strings.TrimSpace(*m.feedback)
		svc := m.svc
		cmd := m.start("declining estimate", func(ctx context.Context, p model.Principal, id string) (*model.TaskRequest, error) {
			return svc.DeclineEstimate(ctx, p, id, feedback)
		})
		return m, cmd
	case huh.StateAborted:
		m.declineForm = nil
		return m, nil
	}
	return m, cmd
}

// RunEstimate sends or edits the estimate of the open task.
func (m *Model) RunEstimate(taskID string, in lifecycle.EstimateInput, edit bool) tea.Cmd {
	if taskID != m.taskID {
		return nil
	}
	svc := m.svc
	if edit {
		return m.start("editing estimate", func(ctx context.Context, p model.Principal, id string) (*model.TaskRequest, error) {
			return svc.EditEstimate(ctx, p, id, in)
		})
	}
	return m.start("sending estimate", func(ctx context.Context, p model.Principal, id string) (*model.TaskRequest, error) {
		return svc.SendEstimate(ctx, p, id, in)
	})
}

// Busy returns the action in flight, or "" when idle.
func (m Model) Busy() string {
	return m.busy
}

type actionFunc func(ctx context.Context, p model.Principal, taskID string) (*model.TaskRequest, error)

// start runs fn unless another action is still in flight, in which case the
// request is dropped.
func (m *Model) start(action string, fn actionFunc) tea.Cmd {
	if m.busy != "" {
		return nil
	}
	m.busy = action
	return m.run(action, fn)
}

func (m Model) run(action string, fn actionFunc) tea.Cmd {
	p, taskID := m.principal, m.taskID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		task, err := fn(ctx, p, taskID)
		return ActionResultMsg{TaskID: taskID, Action: action, Task: task, Err: err}
	}
}

func (m Model) deliver(pending session.Pending) tea.Cmd {
	svc, p, taskID := m.svc, m.principal, m.taskID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		msg, err := svc.AppendMessage(ctx, p, taskID, lifecycle.MessageInput{
			ClientID: pending.ClientID,
			Content:  pending.Content,
		})
		return sendResultMsg{taskID: taskID, clientID: pending.ClientID, message: msg, err: err}
	}
}

func (m Model) markRead() tea.Cmd {
	svc, p, taskID := m.svc, m.principal, m.taskID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_, err := svc.MarkRead(ctx, p, taskID)
		return markedReadMsg{taskID: taskID, err: err}
	}
}

func (m Model) nextSnapshot() tea.Cmd {
	if m.sub == nil {
		return nil
	}
	return waitForSnapshot(m.taskID, m.gen, m.sub)
}

func waitForSnapshot(taskID string, gen int, ch <-chan *model.TaskRequest) tea.Cmd {
	return func() tea.Msg {
		task, ok := <-ch
		if !ok {
			return SnapshotMsg{TaskID: taskID, gen: gen}
		}
		return SnapshotMsg{TaskID: taskID, Task: task, gen: gen}
	}
}

// Handles reports whether msg belongs to the chat view. The parent routes
// such messages to the chat even while another view is active, so the
// subscription keeps draining.
func Handles(msg tea.Msg) bool {
	switch msg.(type) {
	case subscribedMsg, SnapshotMsg, sendResultMsg, markedReadMsg, ActionResultMsg:
		return true
	}
	return false
}
