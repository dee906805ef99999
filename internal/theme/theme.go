// Package theme holds the lipgloss styles shared by the terminal views.
package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/rapidworks/expertdesk/internal/model"
)

// Palette is a named set of adaptive colors (dark terminal value, light
// terminal value).
type Palette struct {
	Accent  lipgloss.AdaptiveColor
	Good    lipgloss.AdaptiveColor
	Warn    lipgloss.AdaptiveColor
	Bad     lipgloss.AdaptiveColor
	Offer   lipgloss.AdaptiveColor
	System  lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
	Text    lipgloss.AdaptiveColor
	Surface lipgloss.AdaptiveColor
}

var palettes = map[string]Palette{
	"default": {
		Accent:  lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"},
		Good:    lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"},
		Warn:    lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"},
		Bad:     lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"},
		Offer:   lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"},
		System:  lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"},
		Muted:   lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"},
		Text:    lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"},
		Surface: lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"},
	},
	"mono": {
		Accent:  lipgloss.AdaptiveColor{Dark: "#D0D0D0", Light: "#303030"},
		Good:    lipgloss.AdaptiveColor{Dark: "#D0D0D0", Light: "#303030"},
		Warn:    lipgloss.AdaptiveColor{Dark: "#B0B0B0", Light: "#505050"},
		Bad:     lipgloss.AdaptiveColor{Dark: "#FFFFFF", Light: "#000000"},
		Offer:   lipgloss.AdaptiveColor{Dark: "#B0B0B0", Light: "#505050"},
		System:  lipgloss.AdaptiveColor{Dark: "#909090", Light: "#707070"},
		Muted:   lipgloss.AdaptiveColor{Dark: "#808080", Light: "#808080"},
		Text:    lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"},
		Surface: lipgloss.AdaptiveColor{Dark: "#3A3A3A", Light: "#D8D8D8"},
	},
}

var current Palette

// Shared styles. They are rebuilt by Use.
var (
	ColorGray  lipgloss.AdaptiveColor
	ColorGreen lipgloss.AdaptiveColor
	ColorWhite lipgloss.AdaptiveColor

	HeaderStyle        lipgloss.Style
	StatusBarStyle     lipgloss.Style
	DetailPanelStyle   lipgloss.Style
	ListItemStyle      lipgloss.Style
	SelectedItemStyle  lipgloss.Style
	BorderStyle        lipgloss.Style
	DimmedStyle        lipgloss.Style
	ErrorStyle         lipgloss.Style
	UnreadBadgeStyle   lipgloss.Style
	PendingStyle       lipgloss.Style
	FailedStyle        lipgloss.Style
	PriceOfferStyle    lipgloss.Style
	SystemMessageStyle lipgloss.Style
)

func init() {
	apply(palettes["default"])
}

// Use switches every shared style to the named palette. An empty name
// selects the default palette.
func Use(name string) error {
	if name == "" {
		name = "default"
	}
	p, ok := palettes[name]
	if !ok {
		return fmt.Errorf("unknown theme %q", name)
	}
	apply(p)
	return nil
}

func apply(p Palette) {
	current = p
	ColorGray = p.Muted
	ColorGreen = p.Good
	ColorWhite = p.Text

	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Text).Background(p.Accent).Padding(0, 1)
	StatusBarStyle = lipgloss.NewStyle().Foreground(p.Text).Background(p.Surface).Padding(0, 1)
	DetailPanelStyle = lipgloss.NewStyle().
		Padding(1, 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Surface)
	ListItemStyle = lipgloss.NewStyle().PaddingLeft(2)
	SelectedItemStyle = lipgloss.NewStyle().
		PaddingLeft(1).
		Bold(true).
		Foreground(p.Accent).
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(p.Accent)
	BorderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.Surface)
	DimmedStyle = lipgloss.NewStyle().Foreground(p.Muted)
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Text).Background(p.Bad).Padding(0, 1)
	UnreadBadgeStyle = ErrorStyle
	PendingStyle = lipgloss.NewStyle().Foreground(p.Muted).Italic(true)
	FailedStyle = lipgloss.NewStyle().Foreground(p.Bad).Italic(true)
	PriceOfferStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Good).
		Padding(0, 1)
	SystemMessageStyle = lipgloss.NewStyle().Foreground(p.System).Italic(true)
}

// StatusStyle returns the badge style for a task status.
func StatusStyle(s model.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch s {
	case model.StatusPending:
		return base.Foreground(current.Accent)
	case model.StatusEstimateProvided:
		return base.Foreground(current.Offer)
	case model.StatusAccepted:
		return base.Foreground(current.System)
	case model.StatusInProgress:
		return base.Foreground(current.Warn)
	case model.StatusCompleted:
		return base.Foreground(current.Good)
	case model.StatusDeclined:
		return base.Foreground(current.Bad)
	default:
		return base.Foreground(current.Muted)
	}
}

// SenderStyle returns the name style for a chat sender.
func SenderStyle(s model.Sender) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch s {
	case model.SenderCustomer:
		return base.Foreground(current.Accent)
	case model.SenderExpert:
		return base.Foreground(current.Good)
	default:
		return base.Foreground(current.System)
	}
}
