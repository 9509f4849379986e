package fancy

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	RootStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	BranchStyle = lipgloss.NewStyle().
			Foreground(ColorDarkGray)

	ComponentStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	DependencyStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	AssetStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	StageStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta)

	ValidStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)
)

// DependencyText styles a dependency name.
func DependencyText(text string) string {
	return DependencyStyle.Render(text)
}

// AssetText styles an asset URL or path.
func AssetText(text string) string {
	return AssetStyle.Render(text)
}

// StageText styles a provisioning state.
func StageText(text string) string {
	return StageStyle.Render(text)
}

// ValidText styles valid status text (green)
func ValidText(text string) string {
	return ValidStyle.Render(text)
}

// ErrorText styles error text (red)
func ErrorText(text string) string {
	return ErrorStyle.Render(text)
}

// PathText styles file paths (gray)
func PathText(text string) string {
	return InfoStyle.Render(text)
}

// CountText styles count numbers (cyan)
func CountText(text string) string {
	return ComponentStyle.Render(text)
}
