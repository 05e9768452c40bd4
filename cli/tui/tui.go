package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/opfsx/cli/render"
	"github.com/pithecene-io/opfsx/types"
)

// Source is what the browser reads. *opfs.Client satisfies it.
type Source interface {
	List(ctx context.Context, path string) ([]types.FileEntry, error)
	ReadWithMetadata(ctx context.Context, path string) (*types.FileContent, error)
}

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Open   key.Binding
	Back   key.Binding
	Quit   key.Binding
	Reload key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Open:   key.NewBinding(key.WithKeys("enter", "right", "l"), key.WithHelp("enter", "open")),
	Back:   key.NewBinding(key.WithKeys("backspace", "left", "h", "esc"), key.WithHelp("⌫", "back")),
	Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type listedMsg struct {
	path    string
	entries []types.FileEntry
	err     error
}

type openedMsg struct {
	path    string
	content *types.FileContent
	err     error
}

// Model browses an OPFS tree one directory at a time.
type Model struct {
	ctx     context.Context
	src     Source
	path    string
	entries []types.FileEntry
	cursor  int

	viewing  bool
	viewPath string
	view     viewport.Model

	width    int
	height   int
	loading  bool
	err      error
	quitting bool
}

// NewModel creates a browser rooted at root.
func NewModel(ctx context.Context, src Source, root string) Model {
	return Model{
		ctx:     ctx,
		src:     src,
		path:    types.NormalizePath(root),
		view:    viewport.New(80, 20),
		width:   80,
		height:  24,
		loading: true,
	}
}

// Path returns the directory being shown.
func (m Model) Path() string { return m.path }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.list(m.path)
}

func (m Model) list(p string) tea.Cmd {
	return func() tea.Msg {
		entries, err := m.src.List(m.ctx, p)
		return listedMsg{path: p, entries: entries, err: err}
	}
}

func (m Model) open(p string) tea.Cmd {
	return func() tea.Msg {
		content, err := m.src.ReadWithMetadata(m.ctx, p)
		return openedMsg{path: p, content: content, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-4, 1)
		return m, nil

	case listedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.path = msg.path
			m.entries = msg.entries
			m.cursor = 0
		}
		return m, nil

	case openedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.viewing = true
			m.viewPath = msg.path
			m.view.SetContent(m.preview(msg.path, msg.content))
			m.view.GotoTop()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.viewing {
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if m.viewing {
		if key.Matches(msg, keys.Back) {
			m.viewing = false
			return m, nil
		}
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Reload):
		m.loading = true
		return m, m.list(m.path)
	case key.Matches(msg, keys.Open):
		if len(m.entries) == 0 {
			return m, nil
		}
		e := m.entries[m.cursor]
		m.loading = true
		if e.IsDir() {
			return m, m.list(e.Path)
		}
		return m, m.open(e.Path)
	case key.Matches(msg, keys.Back):
		if m.path == "" {
			return m, nil
		}
		parent, _ := types.SplitPath(m.path)
		m.loading = true
		return m, m.list(parent)
	}
	return m, nil
}

func (m Model) preview(p string, c *types.FileContent) string {
	switch {
	case c.IsPlaceholder():
		return MutedStyle.Render(c.Content)
	case c.IsBase64:
		return MutedStyle.Render(fmt.Sprintf("binary file, %s (%s)", render.HumanBytes(c.Size), c.MimeType))
	case IsMarkdown(p, c.MimeType):
		if out, err := RenderMarkdown(c.Content, m.width, true); err == nil {
			return out
		}
	}
	return c.Content
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	if m.viewing {
		b.WriteString(TitleStyle.Render("/" + m.viewPath))
		b.WriteString("\n")
		b.WriteString(m.view.View())
		b.WriteString(HelpStyle.Render("↑/↓ scroll • ⌫ back • q quit"))
		return b.String()
	}

	b.WriteString(TitleStyle.Render("/" + m.path))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(ErrorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	if m.loading {
		b.WriteString(MutedStyle.Render("loading…"))
		b.WriteString("\n")
	} else if len(m.entries) == 0 {
		b.WriteString(MutedStyle.Render("(empty)"))
		b.WriteString("\n")
	}
	for i, e := range m.entries {
		line := e.Name
		if e.IsDir() {
			line = DirStyle.Render(e.Name + "/")
		} else if e.Size != nil {
			line += "  " + MutedStyle.Render(render.HumanBytes(*e.Size))
		}
		if i == m.cursor {
			line = SelectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(HelpStyle.Render("↑/↓ move • enter open • ⌫ up • r reload • q quit"))
	return b.String()
}

// Run starts the browser on the terminal.
func Run(ctx context.Context, src Source, root string) error {
	_, err := tea.NewProgram(NewModel(ctx, src, root), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
