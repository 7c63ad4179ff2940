package ui

import "github.com/charmbracelet/lipgloss"

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorDanger    = lipgloss.Color("196") // Red
	colorWarn      = lipgloss.Color("214") // Amber
)

// SelectedItem style for the currently highlighted row.
var SelectedItem = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary)

// NormalItem style for unselected rows.
var NormalItem = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255"))

// MetaItem style for ages, users and counts next to a title.
var MetaItem = lipgloss.NewStyle().
	Foreground(colorSecondary)

// TimeBandHeader style for time band labels (e.g., "Just Now", "Today").
var TimeBandHeader = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)

// Panel frames one feed. PanelFocused marks the one the cursor keys move.
var (
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Padding(0, 1)

	PanelFocused = Panel.
			BorderForeground(colorPrimary)

	PanelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorHighlight)
)

// Header is the top line: app name, wiki and live indicator.
var Header = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

// Live indicator states.
var (
	LiveOn         = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	LiveConnecting = lipgloss.NewStyle().Foreground(colorWarn)
	LiveOff        = lipgloss.NewStyle().Foreground(colorDanger)
)

// Size deltas.
var (
	DeltaAdded   = lipgloss.NewStyle().Foreground(colorSuccess)
	DeltaRemoved = lipgloss.NewStyle().Foreground(colorDanger)
)

// AnonBadge marks anonymous editors.
var AnonBadge = lipgloss.NewStyle().
	Foreground(colorWarn)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(colorDanger).
	Bold(true).
	Padding(0, 1)

// NoticeStyle for transient informational notices.
var NoticeStyle = lipgloss.NewStyle().
	Foreground(colorWarn).
	Padding(0, 1)

// HelpStyle for placeholder and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(colorMuted)

// FilterBar style for the filter and count input bar.
var FilterBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("240")).
	Padding(0, 1)

// FilterBarPrompt style for the input prompt.
var FilterBarPrompt = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// FilterBarCount style for hints after the input.
var FilterBarCount = lipgloss.NewStyle().
	Foreground(colorSecondary)

// Diff lines in the detail view.
var (
	DiffAdded   = lipgloss.NewStyle().Foreground(colorSuccess)
	DiffRemoved = lipgloss.NewStyle().Foreground(colorDanger)
	DiffContext = lipgloss.NewStyle().Foreground(colorSecondary)
)

// DetailPanel frames the diff detail view.
var DetailPanel = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(colorPrimary).
	Padding(1, 2)

// DebugPanel frames the debug overlay.
var DebugPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorMuted).
	Padding(1, 2)

// DebugHeaderStyle for section headers in the debug overlay.
var DebugHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)
