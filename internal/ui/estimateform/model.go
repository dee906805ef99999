package estimateform

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// SubmittedMsg is dispatched when the expert submits an estimate. Edit is
// set when an already provided estimate is being revised.
type SubmittedMsg struct {
	TaskID string
	Input  lifecycle.EstimateInput
	Edit   bool
}

// CancelMsg is dispatched when the user cancels the form.
type CancelMsg struct{}

type formBindings struct {
	hours    string
	price    string
	deadline string
}

// Model is the Bubble Tea model for the estimate send/edit form.
type Model struct {
	form     *huh.Form
	fb       *formBindings
	taskID   string
	taskName string
	editMode bool
	width    int
	height   int
}

// New creates a new estimate form model.
func New(width, height int) Model {
	return Model{fb: &formBindings{}, width: width, height: height}
}

// StartSend initializes the form for a first estimate.
func (m *Model) StartSend(task *model.TaskRequest) tea.Cmd {
	m.taskID = task.ID
	m.taskName = task.TaskName
	m.editMode = false
	*m.fb = formBindings{}
	m.form = m.buildForm()
	return m.form.Init()
}

// StartEdit initializes the form with the current estimate.
func (m *Model) StartEdit(task *model.TaskRequest) tea.Cmd {
	m.taskID = task.ID
	m.taskName = task.TaskName
	m.editMode = true
	*m.fb = formBindings{}
	if est := task.Estimate; est != nil {
		m.fb.hours = formatFloat(est.Hours)
		m.fb.price = formatFloat(est.Price)
		m.fb.deadline = est.Deadline
	}
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the estimate form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.handleSubmit()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the form with a live hourly rate preview.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleText := "Send Estimate"
	if m.editMode {
		titleText = "Edit Estimate"
	}
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	header := titleStyle.Render(titleText + ": " + m.taskName)
	content := header + "\n" + m.form.View()
	if rate, ok := m.rate(); ok {
		content += "\n" + lipgloss.NewStyle().
			Foreground(theme.ColorGreen).
			Render(fmt.Sprintf("Rate: $%s/h", formatFloat(rate)))
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) rate() (float64, bool) {
	hours, err1 := parsePositive(m.fb.hours)
	price, err2 := parsePositive(m.fb.price)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return model.HourlyRate(price, hours), true
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Hours").
				Placeholder("8").
				Value(&m.fb.hours).
				Validate(validatePositive("Hours")),
			huh.NewInput().
				Title("Price ($)").
				Placeholder("320").
				Value(&m.fb.price).
				Validate(validatePositive("Price")),
			huh.NewInput().
				Title("Deadline").
				Placeholder("e.g. 3 business days (optional)").
				Value(&m.fb.deadline),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) handleSubmit() tea.Cmd {
	hours, _ := parsePositive(m.fb.hours)
	price, _ := parsePositive(m.fb.price)
	msg := SubmittedMsg{
		TaskID: m.taskID,
		Edit:   m.editMode,
		Input: lifecycle.EstimateInput{
			Hours:    hours,
			Price:    price,
			Deadline: strings.TrimSpace(m.fb.deadline),
		},
	}
	return func() tea.Msg { return msg }
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 80 {
		w = 80
	}
	return w
}

func (m Model) formHeight() int {
	h := m.height - 6
	if h < 8 {
		h = 8
	}
	return h
}

func parsePositive(s string) (float64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be greater than zero")
	}
	return v, nil
}

func validatePositive(fieldName string) func(string) error {
	return func(s string) error {
		if _, err := parsePositive(s); err != nil {
			return fmt.Errorf("%s %s", fieldName, err)
		}
		return nil
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
