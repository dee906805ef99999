package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestLayoutHeights(t *testing.T) {
	l := NewLayout(100, 40)
	assert.Equal(t, 100, l.ContentWidth())
	assert.Equal(t, 38, l.ContentHeight())
}

func TestRenderStatusBarPrefersError(t *testing.T) {
	l := NewLayout(60, 20)

	hints := l.RenderStatusBar("q quit", "")
	assert.Contains(t, hints, "q quit")
	assert.Equal(t, 60, lipgloss.Width(hints))

	banner := l.RenderStatusBar("q quit", "cannot move task from pending to completed")
	assert.NotContains(t, banner, "q quit")
	assert.True(t, strings.Contains(banner, "cannot move task"))
}

func TestRenderHeaderFillsWidth(t *testing.T) {
	l := NewLayout(80, 20)
	header := l.RenderHeader("Expert Desk", 0, "Ann (customer)")
	assert.Equal(t, 80, lipgloss.Width(header))
	assert.NotContains(t, header, "unread")

	header = l.RenderHeader("Expert Desk", 3, "Ann (customer)")
	assert.Equal(t, 80, lipgloss.Width(header))
	assert.Contains(t, header, "3 unread")
}
