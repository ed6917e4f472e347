package ui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#FF0000")
	ColorGreen   = lipgloss.Color("#00FF00")
	ColorYellow  = lipgloss.Color("#FFFF00")
	ColorCyan    = lipgloss.Color("#00FFFF")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
	ColorMagenta = lipgloss.Color("#FF00FF")
	ColorBlue    = lipgloss.Color("#5F87FF")
)

// Base styles reused by UI components.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	RecordingDotStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	IdleDotStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	TranslationStyle = lipgloss.NewStyle().
				Foreground(ColorBlue).
				Italic(true)

	PanelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	PanelTitleActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorCyan)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	// MarkedStyle highlights entries picked for delete or copy.
	MarkedStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	ActiveSessionStyle = lipgloss.NewStyle().
				Foreground(ColorRed)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	LiveBadgeStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	ScrollBadgeStyle = lipgloss.NewStyle().
				Foreground(ColorYellow).
				Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	InputStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Underline(true)
)

// Transcript text styles per font size preference. A terminal cannot change
// glyph size, so the small size renders dim and the large one bold.
var (
	textSmall  = lipgloss.NewStyle().Foreground(ColorGray)
	textMedium = lipgloss.NewStyle()
	textLarge  = lipgloss.NewStyle().Bold(true)
)

// TextStyle returns the transcript style for a font size ("12", "16", "20").
func TextStyle(fontSize string) lipgloss.Style {
	switch fontSize {
	case "12":
		return textSmall
	case "20":
		return textLarge
	default:
		return textMedium
	}
}
