package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// Command names understood by the palette.
const (
	CmdRefresh = "refresh"
	CmdQuit    = "quit"
	CmdRead    = "read"
	CmdStatus  = "status"
	CmdForce   = "force"
	CmdToken   = "whoami"
)

// Command is a parsed palette entry.
type Command struct {
	Name   string
	Status model.Status
}

// Parse turns raw palette input into a Command. "status" and "force" take a
// status argument; the other commands take none.
func Parse(raw CommandMsg) (Command, error) {
	fields := strings.Fields(strings.ToLower(string(raw)))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	name := fields[0]
	switch name {
	case "q":
		name = CmdQuit
	case "r":
		name = CmdRefresh
	}

	switch name {
	case CmdRefresh, CmdQuit, CmdRead, CmdToken:
		if len(fields) > 1 {
			return Command{}, fmt.Errorf("%s takes no arguments", name)
		}
		return Command{Name: name}, nil
	case CmdStatus, CmdForce:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: %s <status>", name)
		}
		st := model.Status(fields[1])
		if !st.Valid() {
			return Command{}, fmt.Errorf("unknown status %q", fields[1])
		}
		return Command{Name: name, Status: st}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// Suggestions returns the completions offered to role: every command, with
// "status" expanded per status. "force" is listed for admins only.
func Suggestions(role model.Role) []string {
	out := []string{CmdRefresh, CmdRead, CmdToken, CmdQuit}
	for _, st := range model.AllStatuses {
		out = append(out, CmdStatus+" "+string(st))
	}
	if role == model.RoleAdmin {
		for _, st := range model.AllStatuses {
			out = append(out, CmdForce+" "+string(st))
		}
	}
	return out
}

const maxMatches = 6

// Model is the command palette view.
type Model struct {
	input       textinput.Model
	suggestions []string
	width       int
	height      int
}

// New creates a command palette offering the commands role may run.
func New(role model.Role, width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.Focus()
	ti.Width = width - 6

	suggestions := Suggestions(role)
	ti.SetSuggestions(suggestions)

	return Model{
		input:       ti,
		suggestions: suggestions,
		width:       width,
		height:      height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette. Tab completes the
// highlighted suggestion.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEnter {
		raw := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if raw == "" {
			return m, nil
		}
		return m, func() tea.Msg { return CommandMsg(raw) }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Matches returns up to maxMatches suggestions starting with the typed text.
func (m Model) Matches() []string {
	typed := strings.ToLower(strings.TrimLeft(m.input.Value(), " "))
	var out []string
	for _, s := range m.suggestions {
		if strings.HasPrefix(s, typed) {
			out = append(out, s)
			if len(out) == maxMatches {
				break
			}
		}
	}
	return out
}

// View renders the command palette.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Command Palette")

	rows := []string{title, m.input.View()}
	if matches := m.Matches(); len(matches) > 0 {
		rows = append(rows, theme.DimmedStyle.Render(strings.Join(matches, "  ")))
	} else {
		rows = append(rows, theme.FailedStyle.Render("no matching command"))
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// SetSize updates the palette width.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
