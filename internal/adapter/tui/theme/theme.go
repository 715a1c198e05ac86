// Package theme holds the colors and styles of the terminal status view.
// All styles use adaptive colors that work on both light and dark terminals.
//
// NO_COLOR (https://no-color.org/) is respected automatically by lipgloss via
// its color profile detection.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"antai/internal/domain"
)

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorFgDim   = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
	ColorBgAlt   = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
)

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)

	ProjectTitle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	TeamCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)
)

// MaxContentWidth caps team cards on wide terminals.
const MaxContentWidth = 100

// AgentStatusStyle colors an agent status.
func AgentStatusStyle(s domain.AgentStatus) lipgloss.Style {
	switch s {
	case domain.AgentRunning, domain.AgentThinking, domain.AgentToolUse:
		return TextSuccess
	case domain.AgentError, domain.AgentCrashed:
		return TextError
	case domain.AgentIdle:
		return TextInfo
	default:
		return TextMuted
	}
}

// TeamStatusStyle colors a team status.
func TeamStatusStyle(s domain.TeamStatus) lipgloss.Style {
	switch s {
	case domain.TeamRunning:
		return TextSuccess
	case domain.TeamStarting, domain.TeamStopping:
		return TextWarning
	case domain.TeamError:
		return TextError
	default:
		return TextMuted
	}
}

// AgentSymbol is the glyph shown before an agent name.
func AgentSymbol(s domain.AgentStatus) string {
	switch {
	case s.Active():
		return SymbolActive
	case s == domain.AgentError || s == domain.AgentCrashed:
		return SymbolError
	default:
		return SymbolIdle
	}
}
