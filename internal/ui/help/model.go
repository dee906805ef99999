package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/keys"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	role   model.Role
	width  int
	height int
}

// New creates a new help view model for a session in role.
func New(keys *keys.KeyMap, role model.Role, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		role:   role,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// roleNotes lists what each role can do in a task chat.
func roleNotes(role model.Role) []string {
	switch role {
	case model.RoleCustomer:
		return []string{
			"n creates a task request for an expert.",
			"Once an estimate arrives, a accepts it and d declines it.",
		}
	case model.RoleExpert:
		return []string{
			"e sends an estimate on a pending task and edits it until it is answered.",
			"s starts an accepted task and x marks it completed.",
		}
	case model.RoleAdmin:
		return []string{
			"Admins can act on either side of every task.",
			":force <status> overrides the status table; overrides are logged.",
		}
	}
	return nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	title := titleStyle.Render("Keyboard Shortcuts")

	m.help.Width = m.width - 4
	m.help.ShowAll = true
	helpText := m.help.View(m.keys)

	notes := theme.DimmedStyle.Render(
		"Signed in as " + string(m.role) + "\n" + strings.Join(roleNotes(m.role), "\n"),
	)

	content := lipgloss.JoinVertical(lipgloss.Left, title, helpText, "", notes)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
