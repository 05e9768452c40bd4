package tui

import (
	"path"
	"strings"

	"github.com/charmbracelet/glamour"
)

// IsMarkdown reports whether a file should get a markdown preview.
func IsMarkdown(name, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/markdown") {
		return true
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// RenderMarkdown renders src for a terminal width. tty selects the dark
// style; otherwise the plain "notty" style is used.
func RenderMarkdown(src string, width int, tty bool) (string, error) {
	if width <= 0 {
		width = 80
	}
	style := "notty"
	if tty {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(src)
}
