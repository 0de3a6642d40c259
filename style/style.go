// Package style holds the color palette and lipgloss styles a host
// Program reaches for when rendering a Controller's items — placeholder
// vs. real vs. just-replaced rows, the selected row, and the scrollbar
// track/thumb. It owns no viewport state; it is pure presentation,
// leaving scrollbar/row chrome to the embedding program rather than
// the core engine.
package style

import (
	"image/color"
	"strings"

	"charm.land/lipgloss/v2"
)

// Colors — initialized to dark theme defaults. Updated via SetTheme().
var (
	Primary   color.Color = lipgloss.Color("#7C3AED")
	Secondary color.Color = lipgloss.Color("#06B6D4")
	Success   color.Color = lipgloss.Color("#22C55E")
	Warning   color.Color = lipgloss.Color("#F59E0B")
	Error     color.Color = lipgloss.Color("#EF4444")
	Muted     color.Color = lipgloss.Color("#6B7280")
	Dim       color.Color = lipgloss.Color("#374151")
	Border    color.Color = lipgloss.Color("#4B5563")
	Highlight color.Color = lipgloss.Color("#312E81")
)

// Base styles — rebuilt when the theme changes via rebuildStyles().
var (
	Bold      lipgloss.Style
	Faint     lipgloss.Style
	ErrorText lipgloss.Style
	Hint      lipgloss.Style

	// Row rendering
	PlaceholderItem lipgloss.Style // a row not yet loaded (rangecache.Placeholder)
	RealItem        lipgloss.Style // a loaded row
	ReplacedItem    lipgloss.Style // a row that just transitioned placeholder -> real
	SelectedItem    lipgloss.Style // the row under the current selection/anchor

	StatusBar lipgloss.Style // footer: counters, lifecycle state, velocity

	ScrollbarThumb lipgloss.Style
	ScrollbarTrack lipgloss.Style
)

func init() {
	rebuildStyles()
}

// SetTheme applies a named theme, updating all color vars and rebuilding styles.
func SetTheme(name string) bool {
	t, ok := Themes[name]
	if !ok {
		return false
	}
	CurrentThemeName = name
	Primary = t.Primary
	Secondary = t.Secondary
	Success = t.Success
	Warning = t.Warning
	Error = t.Error
	Muted = t.Muted
	Dim = t.Dim
	Border = t.Border
	Highlight = t.Highlight
	rebuildStyles()
	return true
}

// IsDark returns whether the current theme is dark.
func IsDark() bool {
	return CurrentThemeName != "light"
}

func rebuildStyles() {
	Bold = lipgloss.NewStyle().Bold(true)
	Faint = lipgloss.NewStyle().Foreground(Muted)
	ErrorText = lipgloss.NewStyle().Foreground(Error).Bold(true)
	Hint = lipgloss.NewStyle().Foreground(Dim)

	PlaceholderItem = lipgloss.NewStyle().Foreground(Dim).Italic(true)
	RealItem = lipgloss.NewStyle().Foreground(Muted)
	ReplacedItem = lipgloss.NewStyle().Foreground(Success)
	SelectedItem = lipgloss.NewStyle().
		Foreground(Primary).
		Background(Highlight).
		Bold(true)

	StatusBar = lipgloss.NewStyle().Foreground(Muted).PaddingLeft(1)

	ScrollbarThumb = lipgloss.NewStyle().Foreground(Primary)
	ScrollbarTrack = lipgloss.NewStyle().Foreground(Dim)
}

// ScrollbarRender draws a vertical scrollbar track of trackLength cells
// for a viewport with the given virtual size, container size and
// current scroll position: a filled/empty bar technique, keyed off
// thumb position instead of a percentage threshold.
func ScrollbarRender(position, virtualSize, containerSize float64, trackLength int) string {
	if trackLength <= 0 || virtualSize <= containerSize || virtualSize <= 0 {
		return strings.Repeat(" ", maxInt(trackLength, 0))
	}

	thumbLen := int(float64(trackLength) * containerSize / virtualSize)
	if thumbLen < 1 {
		thumbLen = 1
	}
	if thumbLen > trackLength {
		thumbLen = trackLength
	}

	maxScroll := virtualSize - containerSize
	scrollRatio := 0.0
	if maxScroll > 0 {
		scrollRatio = position / maxScroll
	}
	if scrollRatio < 0 {
		scrollRatio = 0
	}
	if scrollRatio > 1 {
		scrollRatio = 1
	}

	thumbStart := int(scrollRatio * float64(trackLength-thumbLen))
	before := thumbStart
	after := trackLength - thumbLen - before

	return ScrollbarTrack.Render(strings.Repeat("░", before)) +
		ScrollbarThumb.Render(strings.Repeat("█", thumbLen)) +
		ScrollbarTrack.Render(strings.Repeat("░", after))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
