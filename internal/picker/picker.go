// Package picker is an interactive browser for the terminals and REPLs
// replmux has opened in tmux.
package picker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/replmux/internal/model"
	"github.com/timvw/replmux/internal/mux"
)

const previewLines = 8

// Picker runs the session browser.
type Picker struct {
	Mux mux.Multiplexer
	// Session limits the list to one tmux session. Empty lists every session.
	Session string
	Theme   Theme
}

// Run shows the picker until the user selects a window or quits. It returns
// the selected window, or nil when the user quit.
func (p *Picker) Run(ctx context.Context) (*model.Window, error) {
	m := newModel(ctx, p.Mux, p.Session, p.Theme)
	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return nil, err
	}
	return final.(*pickerModel).chosen, nil
}

type listItem struct {
	header bool
	kind   model.Kind
	win    int // index into windows (only for rows)
}

type windowsMsg struct {
	windows []model.Window
	err     error
}

type previewMsg struct {
	id      string
	content string
	err     error
}

type selectedMsg struct {
	window model.Window
	err    error
}

type pickerModel struct {
	ctx     context.Context
	mux     mux.Multiplexer
	session string
	styles  styles

	windows []model.Window
	items   []listItem
	cursor  int

	filter    textinput.Model
	filtering bool

	preview    string
	previewFor string

	loading bool
	message string
	chosen  *model.Window

	width  int
	height int
}

func newModel(ctx context.Context, m mux.Multiplexer, session string, theme Theme) *pickerModel {
	ti := textinput.New()
	ti.Placeholder = "filter by name or file"
	ti.Prompt = "/ "
	ti.CharLimit = 256

	return &pickerModel{
		ctx:     ctx,
		mux:     m,
		session: session,
		styles:  newStyles(theme),
		filter:  ti,
	}
}

func (m *pickerModel) Init() tea.Cmd {
	m.loading = true
	return m.load()
}

func (m *pickerModel) load() tea.Cmd {
	ctx, mx := m.ctx, m.mux
	filter := ""
	if m.session != "" {
		filter = "^" + regexp.QuoteMeta(m.session) + "$"
	}
	return func() tea.Msg {
		windows, err := mx.ListWindows(ctx, filter)
		return windowsMsg{windows: windows, err: err}
	}
}

func (m *pickerModel) loadPreview() tea.Cmd {
	w := m.selectedWindow()
	if w == nil || w.ID == m.previewFor {
		return nil
	}
	ctx, mx, id := m.ctx, m.mux, w.ID
	return func() tea.Msg {
		content, err := mx.CapturePane(ctx, id)
		return previewMsg{id: id, content: content, err: err}
	}
}

func (m *pickerModel) selectWindow(w model.Window) tea.Cmd {
	ctx, mx := m.ctx, m.mux
	return func() tea.Msg {
		return selectedMsg{window: w, err: mx.SelectWindow(ctx, w.ID)}
	}
}

// rebuildItems groups the tagged windows that match the filter by kind,
// output terminals first.
func (m *pickerModel) rebuildItems() {
	query := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	byKind := map[model.Kind][]int{}
	for i, w := range m.windows {
		if !w.Tagged() {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(w.Name), query) &&
			!strings.Contains(strings.ToLower(w.Key), query) {
			continue
		}
		byKind[w.Kind] = append(byKind[w.Kind], i)
	}

	m.items = nil
	for _, kind := range []model.Kind{model.KindOutput, model.KindREPL} {
		idx := byKind[kind]
		if len(idx) == 0 {
			continue
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return m.windows[idx[a]].Name < m.windows[idx[b]].Name
		})
		m.items = append(m.items, listItem{header: true, kind: kind})
		for _, i := range idx {
			m.items = append(m.items, listItem{kind: kind, win: i})
		}
	}
	m.clampCursor()
}

// clampCursor keeps the cursor inside the list and off group headers.
func (m *pickerModel) clampCursor() {
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	for m.cursor < len(m.items)-1 && m.items[m.cursor].header {
		m.cursor++
	}
}

func (m *pickerModel) selectedWindow() *model.Window {
	if m.cursor < 0 || m.cursor >= len(m.items) || m.items[m.cursor].header {
		return nil
	}
	return &m.windows[m.items[m.cursor].win]
}

func (m *pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filtering {
			return m.handleFilterKey(msg)
		}
		return m.handleListKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filter.Width = msg.Width - 4
		return m, nil

	case windowsMsg:
		m.loading = false
		if msg.err != nil {
			m.message = fmt.Sprintf("List error: %v", msg.err)
			return m, nil
		}
		m.windows = msg.windows
		m.previewFor = ""
		m.rebuildItems()
		return m, m.loadPreview()

	case previewMsg:
		if w := m.selectedWindow(); w == nil || w.ID != msg.id {
			return m, nil
		}
		m.previewFor = msg.id
		if msg.err != nil {
			m.preview = ""
			m.message = fmt.Sprintf("Capture error: %v", msg.err)
			return m, nil
		}
		m.preview = tail(msg.content, previewLines)
		return m, nil

	case selectedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Select failed: %v", msg.err)
			return m, nil
		}
		w := msg.window
		m.chosen = &w
		return m, tea.Quit
	}
	return m, nil
}

func (m *pickerModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			prev := m.cursor
			m.cursor--
			for m.cursor > 0 && m.items[m.cursor].header {
				m.cursor--
			}
			if m.items[m.cursor].header {
				m.cursor = prev
			}
		}
		return m, m.loadPreview()

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
			m.clampCursor()
		}
		return m, m.loadPreview()

	case "enter":
		if w := m.selectedWindow(); w != nil {
			return m, m.selectWindow(*w)
		}
		return m, nil

	case "r":
		m.loading = true
		m.message = ""
		return m, m.load()

	case "/":
		m.filtering = true
		m.filter.Focus()
		return m, textinput.Blink

	case "esc":
		if m.filter.Value() != "" {
			m.filter.SetValue("")
			m.rebuildItems()
			return m, m.loadPreview()
		}
	}
	return m, nil
}

func (m *pickerModel) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.rebuildItems()
		return m, m.loadPreview()
	case tea.KeyEnter:
		m.filtering = false
		m.filter.Blur()
		return m, m.loadPreview()
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.rebuildItems()
	return m, tea.Batch(cmd, m.loadPreview())
}

func (m *pickerModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	s := m.styles
	var b strings.Builder

	b.WriteString(s.title.Render("replmux sessions"))
	b.WriteString("  ")
	if m.filtering {
		b.WriteString(s.dim.Render("Enter=apply  Esc=clear"))
	} else {
		b.WriteString(s.dim.Render("Enter=jump  /=filter  r=refresh  q=quit"))
	}
	if m.loading {
		b.WriteString("  ")
		b.WriteString(s.dim.Render("loading..."))
	}
	b.WriteString("\n")

	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
	}

	if len(m.items) == 0 {
		switch {
		case m.loading:
			b.WriteString("  Listing windows...\n")
		case m.filter.Value() != "":
			b.WriteString("  No sessions match the filter.\n")
		default:
			b.WriteString("  No replmux sessions. Run or load a file first.\n")
		}
	}

	for i, item := range m.items {
		if item.header {
			b.WriteString(s.group[string(item.kind)].Render(groupTitle(item.kind, m.count(item.kind))))
			b.WriteString("\n")
			continue
		}
		w := m.windows[item.win]
		name := fmt.Sprintf("%-24s", truncate(w.Name, 24))
		detail := fmt.Sprintf("%s  %s", w.ID, w.Key)
		if i == m.cursor {
			b.WriteString(s.selected.Render(padRight("→ "+name+" "+detail, m.width)))
		} else {
			b.WriteString("  " + s.text.Render(name) + " " + s.dim.Render(detail))
		}
		b.WriteString("\n")
	}

	if m.preview != "" {
		b.WriteString(s.border.Render(strings.Repeat("─", max(m.width, 1))))
		b.WriteString("\n")
		for _, line := range strings.Split(m.preview, "\n") {
			b.WriteString(s.dim.Render(truncate(line, m.width)))
			b.WriteString("\n")
		}
	}

	if m.message != "" {
		b.WriteString(s.err.Render("  " + m.message))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *pickerModel) count(kind model.Kind) int {
	n := 0
	for _, item := range m.items {
		if !item.header && item.kind == kind {
			n++
		}
	}
	return n
}

func groupTitle(kind model.Kind, n int) string {
	switch kind {
	case model.KindOutput:
		return fmt.Sprintf("Output terminals (%d)", n)
	case model.KindREPL:
		return fmt.Sprintf("REPLs (%d)", n)
	}
	return fmt.Sprintf("%s (%d)", kind, n)
}

// tail returns the last n non-empty-trailing lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n "), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if width <= 1 || len(r) <= 1 {
		return string(r[:1])
	}
	for lipgloss.Width(string(r)) > width-1 {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
