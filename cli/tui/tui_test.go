package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/opfsx/internal/opfstest"
	"github.com/pithecene-io/opfsx/types"
)

// step runs cmd and feeds its message back into the model.
func step(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	next, _ := m.Update(cmd())
	return next.(Model)
}

func press(m Model, keyType tea.KeyType, runes ...rune) (Model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: keyType, Runes: runes})
	return next.(Model), cmd
}

func TestBrowse_Navigate(t *testing.T) {
	client, page := opfstest.New()
	if err := page.Put("docs/readme.md", []byte("# Title\n\nbody text\n"), "text/markdown"); err != nil {
		t.Fatal(err)
	}
	if err := page.Put("a.bin", []byte{0, 1, 2, 0xff}, "application/octet-stream"); err != nil {
		t.Fatal(err)
	}

	m := NewModel(t.Context(), client, "")
	m = step(t, m, m.Init())
	if len(m.entries) != 2 || m.entries[0].Name != "docs" {
		t.Fatalf("root entries = %+v, want docs first", m.entries)
	}
	if v := m.View(); !strings.Contains(v, "docs/") || !strings.Contains(v, "a.bin") {
		t.Errorf("root view = %q", v)
	}

	m, cmd := press(m, tea.KeyEnter)
	m = step(t, m, cmd)
	if m.Path() != "docs" || len(m.entries) != 1 {
		t.Fatalf("after enter: path %q, entries %+v", m.Path(), m.entries)
	}

	m, cmd = press(m, tea.KeyEnter)
	m = step(t, m, cmd)
	if !m.viewing || m.viewPath != "docs/readme.md" {
		t.Fatalf("expected file view, got viewing=%v path=%q", m.viewing, m.viewPath)
	}
	if v := m.View(); !strings.Contains(v, "Title") || !strings.Contains(v, "body") {
		t.Errorf("markdown preview = %q", v)
	}

	m, _ = press(m, tea.KeyBackspace)
	if m.viewing {
		t.Fatal("backspace should close the file view")
	}
	m, cmd = press(m, tea.KeyBackspace)
	m = step(t, m, cmd)
	if m.Path() != "" {
		t.Errorf("after back: path %q, want root", m.Path())
	}

	m, _ = press(m, tea.KeyRunes, 'j')
	if m.cursor != 1 {
		t.Errorf("cursor = %d after j, want 1", m.cursor)
	}
	m, _ = press(m, tea.KeyRunes, 'j')
	if m.cursor != 1 {
		t.Errorf("cursor moved past the last entry: %d", m.cursor)
	}
	m, cmd = press(m, tea.KeyEnter)
	m = step(t, m, cmd)
	if !m.viewing || !strings.Contains(m.View(), types.PlaceholderPrefix) {
		t.Errorf("binary preview = %q", m.View())
	}
}

func TestBrowse_ErrorAndQuit(t *testing.T) {
	client, _ := opfstest.New()
	m := NewModel(t.Context(), client, "missing")
	m = step(t, m, m.Init())
	if m.err == nil || !strings.Contains(m.View(), m.err.Error()) {
		t.Errorf("expected the list error in the view, got %q", m.View())
	}

	m, cmd := press(m, tea.KeyRunes, 'q')
	if cmd == nil || !m.quitting || m.View() != "" {
		t.Error("q should quit")
	}
}

func TestIsMarkdown(t *testing.T) {
	tests := []struct {
		name, mime string
		want       bool
	}{
		{"a.md", "", true},
		{"A.MARKDOWN", "", true},
		{"notes", "text/markdown; charset=utf-8", true},
		{"a.txt", "text/plain", false},
	}
	for _, tt := range tests {
		if got := IsMarkdown(tt.name, tt.mime); got != tt.want {
			t.Errorf("IsMarkdown(%q, %q) = %v", tt.name, tt.mime, got)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown("# Heading\n\n- item\n", 40, false)
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if !strings.Contains(out, "Heading") || !strings.Contains(out, "item") {
		t.Errorf("rendered = %q", out)
	}
}
