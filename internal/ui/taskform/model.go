package taskform

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// SubmittedMsg is dispatched when the customer submits a new task request.
// Paths are local files to attach.
type SubmittedMsg struct {
	Input lifecycle.CreateTaskInput
	Paths []string
}

// CancelMsg is dispatched when the user cancels the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	expertEmail string
	taskName    string
	description string
	dueDate     string
	files       string
}

// Model is the Bubble Tea model for the new task form.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	experts []model.ExpertConfig
	width   int
	height  int
}

// New creates a new task form model offering the given experts.
func New(experts []model.ExpertConfig, width, height int) Model {
	return Model{
		fb:      &formBindings{},
		experts: experts,
		width:   width,
		height:  height,
	}
}

// Start resets the bindings and builds a fresh form.
func (m *Model) Start() tea.Cmd {
	*m.fb = formBindings{}
	if len(m.experts) > 0 {
		m.fb.expertEmail = m.experts[0].Email
	}
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the task form.
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

// View renders the task form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("New Task Request") + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	var expertField huh.Field
	if len(m.experts) > 0 {
		opts := make([]huh.Option[string], len(m.experts))
		for i, e := range m.experts {
			label := e.Name
			if e.Type != "" {
				label = fmt.Sprintf("%s (%s)", e.Name, e.Type)
			}
			opts[i] = huh.NewOption(label, e.Email)
		}
		expertField = huh.NewSelect[string]().
			Title("Expert").
			Options(opts...).
			Value(&m.fb.expertEmail)
	} else {
		expertField = huh.NewInput().
			Title("Expert email").
			Placeholder("expert@example.com").
			Value(&m.fb.expertEmail).
			Validate(validateRequired("Expert email"))
	}

	return huh.NewForm(
		huh.NewGroup(
			expertField,
			huh.NewInput().
				Title("Task").
				Placeholder("What do you need done?").
				Value(&m.fb.taskName).
				Validate(validateRequired("Task")),
			huh.NewText().
				Title("Description").
				Placeholder("Details, links, expectations...").
				Value(&m.fb.description),
			huh.NewInput().
				Title("Due Date").
				Placeholder("YYYY-MM-DD (optional)").
				Value(&m.fb.dueDate).
				Validate(validateOptionalDate),
			huh.NewInput().
				Title("Attachments").
				Placeholder("comma-separated file paths (optional)").
				Value(&m.fb.files).
				Validate(validatePaths),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) handleSubmit() tea.Cmd {
	in := lifecycle.CreateTaskInput{
		ExpertEmail:     strings.TrimSpace(m.fb.expertEmail),
		TaskName:        strings.TrimSpace(m.fb.taskName),
		TaskDescription: strings.TrimSpace(m.fb.description),
	}
	for _, e := range m.experts {
		if strings.EqualFold(e.Email, in.ExpertEmail) {
			in.ExpertName = e.Name
			in.ExpertType = e.Type
		}
	}
	if m.fb.dueDate != "" {
		if t, err := time.Parse("2006-01-02", strings.TrimSpace(m.fb.dueDate)); err == nil {
			in.DueDate = &t
		}
	}
	paths := splitPaths(m.fb.files)
	return func() tea.Msg { return SubmittedMsg{Input: in, Paths: paths} }
}

// OpenAttachments opens local files as uploads. The returned function
// closes every opened file.
func OpenAttachments(paths []string) ([]lifecycle.Upload, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]lifecycle.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("opening attachment %s: %w", p, err)
		}
		files = append(files, f)

		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("reading attachment %s: %w", p, err)
		}
		ctype := mime.TypeByExtension(filepath.Ext(p))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		uploads = append(uploads, lifecycle.Upload{
			Name:        filepath.Base(p),
			ContentType: ctype,
			Size:        info.Size(),
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func (m Model) formHeight() int {
	h := m.height - 4
	if h < 10 {
		h = 10
	}
	return h
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateOptionalDate(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date format, use YYYY-MM-DD")
	}
	return nil
}

func validatePaths(s string) error {
	for _, p := range splitPaths(s) {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("%s: no such file", p)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", p)
		}
	}
	return nil
}
