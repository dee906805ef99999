package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/internal/session"
	"github.com/rapidworks/expertdesk/internal/theme"
)

// View renders the chat view.
func (m Model) View() string {
	task := m.state.Confirmed
	if task == nil {
		text := "Loading..."
		if m.err != nil {
			text = m.err.Error()
		}
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render(text)
	}

	parts := []string{m.renderHeader(task), m.viewport.View()}

	switch {
	case m.declineForm != nil:
		parts = append(parts, m.declineForm.View())
	case m.composing:
		parts = append(parts, theme.BorderStyle.Width(m.width-4).Render(m.input.View()))
	}
	if m.busy != "" {
		parts = append(parts, theme.PendingStyle.Render(m.busy+"..."))
	}
	if m.err != nil {
		parts = append(parts, theme.ErrorStyle.Render(m.err.Error()))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Hints returns the key hints for the actions currently available.
func (m Model) Hints() string {
	if m.composing {
		return "enter: send · esc: stop writing"
	}
	if m.declineForm != nil {
		return "enter: submit · esc: cancel"
	}

	hints := []string{"i: write"}
	if len(m.state.Failed()) > 0 {
		hints = append(hints, "r: retry")
	}
	switch {
	case m.state.CanSendEstimate():
		hints = append(hints, "e: send estimate")
	case m.state.CanEditEstimate():
		hints = append(hints, "e: edit estimate")
	}
	if m.state.CanRespond() {
		hints = append(hints, "a: accept", "d: decline")
	}
	if m.state.CanStartWork() {
		hints = append(hints, "s: start work")
	}
	if m.state.CanComplete() {
		hints = append(hints, "x: complete")
	}
	hints = append(hints, "esc: back")
	return strings.Join(hints, " · ")
}

func (m Model) renderHeader(task *model.TaskRequest) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).Render(task.TaskName)
	status := theme.StatusStyle(task.Status).Render(task.Status.Label())

	counterpart := task.ExpertName
	if m.principal.IsStaff() {
		counterpart = task.UserName
		if counterpart == "" {
			counterpart = task.UserEmail
		}
	}

	meta := []string{"with " + counterpart}
	if est := task.Estimate; est != nil {
		meta = append(meta, fmt.Sprintf("$%s for %sh", trimFloat(est.Price), trimFloat(est.Hours)))
	}
	if task.DueDate != nil {
		meta = append(meta, "due "+task.DueDate.Format("Jan 2"))
	}
	if n := len(task.Files); n > 0 {
		meta = append(meta, fmt.Sprintf("%d attachment(s)", n))
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", status)
	return lipgloss.JoinVertical(lipgloss.Left,
		line,
		theme.DimmedStyle.Render(strings.Join(meta, " · ")),
		"",
	)
}

// refresh re-renders the timeline into the viewport and scrolls to the end.
func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTimeline())
	m.viewport.GotoBottom()
}

func (m Model) renderTimeline() string {
	entries := m.state.Timeline()
	if len(entries) == 0 {
		return theme.DimmedStyle.Render("No messages yet. Press i to write one.")
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderEntry(e, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderEntry(e session.Entry, width int) string {
	msg := e.Message

	if msg.Sender == model.SenderSystem {
		return theme.SystemMessageStyle.Width(width).Render("• " + msg.Content)
	}

	name := msg.SenderName
	if name == "" {
		name = string(msg.Sender)
	}
	header := theme.SenderStyle(msg.Sender).Render(name)
	if !msg.CreatedAt.IsZero() {
		header += " " + theme.DimmedStyle.Render(msg.CreatedAt.Local().Format("Jan 2 15:04"))
	}

	var body string
	if msg.Type == model.MessageTypePriceOffer {
		body = theme.PriceOfferStyle.Render(msg.Content)
	} else {
		body = lipgloss.NewStyle().Width(width).Render(msg.Content)
	}

	var footer string
	switch {
	case e.Failed:
		footer = theme.FailedStyle.Render(fmt.Sprintf("not sent: %v (r to retry)", e.Err))
	case e.Pending:
		footer = theme.PendingStyle.Render("sending...")
	case msg.Sender == m.principal.Sender() && msg.Read:
		footer = theme.DimmedStyle.Render("read")
	}

	if footer == "" {
		return header + "\n" + body
	}
	return header + "\n" + body + "\n" + footer
}

// SetSize updates the chat dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 6
	m.input.Width = width - 6
	if m.state.Confirmed != nil {
		m.refresh()
	}
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
