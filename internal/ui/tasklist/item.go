package tasklist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// TaskItem wraps a task request so it can be used in a bubbles/list.
type TaskItem struct {
	Task   model.TaskRequest
	Unread int
}

// FilterValue returns the string used for fuzzy filtering.
func (i TaskItem) FilterValue() string { return i.Task.TaskName }

// Title returns the task name for the list.
func (i TaskItem) Title() string { return i.Task.TaskName }

// Description returns a short summary line for the list.
func (i TaskItem) Description() string {
	parts := []string{
		i.Task.Status.Label(),
		i.Task.ExpertName,
		relativeTime(i.Task.UpdatedAt),
	}
	return strings.Join(parts, " | ")
}

// TaskDelegate implements list.ItemDelegate for rendering task rows.
type TaskDelegate struct {
	// Role decides which party's name is shown as the counterpart.
	Role model.Role
}

// Height returns the number of lines each item takes.
func (d TaskDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d TaskDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d TaskDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single task row.
func (d TaskDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(TaskItem)
	if !ok {
		return
	}
	task := ti.Task
	isSelected := index == m.Index()

	statusBadge := theme.StatusStyle(task.Status).Render(task.Status.Label())

	counterpart := task.ExpertName
	if d.Role != model.RoleCustomer {
		counterpart = task.UserName
		if counterpart == "" {
			counterpart = task.UserEmail
		}
	}
	who := lipgloss.NewStyle().Foreground(theme.ColorGray).Render(counterpart)

	price := ""
	if task.Estimate != nil {
		price = lipgloss.NewStyle().
			Foreground(theme.ColorGreen).
			Render(fmt.Sprintf(" $%s", trimPrice(task.Estimate.Price)))
	}

	unread := ""
	if ti.Unread > 0 {
		unread = " " + theme.UnreadBadgeStyle.Render(fmt.Sprintf("%d", ti.Unread))
	}

	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(task.UpdatedAt))

	line := fmt.Sprintf("%s %s%s  %s%s  %s",
		statusBadge, task.TaskName, price, who, unread, timeStr)

	if task.Status.IsTerminal() {
		line = theme.DimmedStyle.Render(line)
	}
	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

func trimPrice(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
