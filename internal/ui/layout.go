package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/theme"
)

// Layout holds the terminal dimensions and the fixed chrome around the
// active view: a one-line header and a one-line status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout for a terminal of the given size.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left for the active view.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// RenderHeader renders the app title, an unread badge when unread is
// positive, and the session identity right-aligned.
func (l Layout) RenderHeader(title string, unread int, identity string) string {
	left := theme.HeaderStyle.Render(title)
	if unread > 0 {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left, theme.UnreadBadgeStyle.Render(fmt.Sprintf("%d unread", unread)))
	}
	return l.spread(theme.HeaderStyle, left, theme.HeaderStyle.Render(identity))
}

// RenderStatusBar renders key hints. A non-empty errMsg replaces them with
// the error banner until the view clears it.
func (l Layout) RenderStatusBar(hints string, errMsg string) string {
	if errMsg != "" {
		return theme.ErrorStyle.Width(l.Width).MaxHeight(l.StatusBarHeight).Render(errMsg)
	}
	return l.spread(theme.StatusBarStyle, theme.StatusBarStyle.Render(hints), "")
}

// spread places left and right at the edges of a full-width bar painted
// with the background of style.
func (l Layout) spread(style lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame stacks header, content and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
