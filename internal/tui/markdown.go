package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const defaultWidth = 80

// renderMarkdown renders text with glamour at the given width. On failure
// the raw text is returned.
func renderMarkdown(text string, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return text
	}
	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}
