package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chen/internal/clipboard"
	"chen/internal/index"
	"chen/internal/session"
	"chen/internal/transcript"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Picker is the interactive session browser. Enter resumes the selected
// session; the chosen identifier is read back through ChosenID after the
// program exits.
type Picker struct {
	indexer  *index.Indexer
	store    *session.Store
	exporter *transcript.Exporter

	list     list.Model
	viewport viewport.Model
	help     help.Model
	spinner  spinner.Model
	search   textinput.Model
	keys     pickerKeys

	width  int
	height int

	indexing      bool
	searchMode    bool
	searchQuery   string
	focusOnList   bool
	includeTools  bool
	includeSystem bool
	oldestFirst   bool
	renderNonce   int

	selectedID string
	chosenID   string
	sessions   map[string]index.Session
	events     map[string][]session.MessageEvent
	rendered   map[string]string

	status string
	err    error
}

type indexDoneMsg struct{ err error }
type sessionsMsg struct {
	sessions []index.Session
	err      error
}
type historyMsg struct {
	id     string
	events []session.MessageEvent
	err    error
}
type renderMsg struct {
	sessionID string
	cacheKey  string
	rendered  string
	nonce     int
}
type exportMsg struct {
	path string
	err  error
}
type copyMsg struct{ err error }

type sessionItem struct {
	s index.Session
}

func (i sessionItem) Title() string {
	if i.s.Title != "" {
		return shorten(i.s.Title, 48)
	}
	return shorten(i.s.ID, 28)
}

func (i sessionItem) Description() string {
	meta := fmt.Sprintf("updated %s | %d turns", index.FormatUnix(i.s.UpdatedTS), i.s.TurnCount)
	if i.s.Preview == "" {
		return meta
	}
	return meta + " | " + shorten(i.s.Preview, 60)
}

func (i sessionItem) FilterValue() string {
	return strings.ToLower(i.s.ID + " " + i.s.Title + " " + i.s.Preview)
}

func NewPicker(idx *index.Indexer, store *session.Store, exp *transcript.Exporter) Picker {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20)
	l.Title = "Sessions"
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	vp := viewport.New(60, 20)
	vp.SetContent("Indexing sessions...")

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	ti := textinput.New()
	ti.Placeholder = "Search across sessions..."
	ti.Prompt = "/ "
	ti.CharLimit = 256

	return Picker{
		indexer:  idx,
		store:    store,
		exporter: exp,
		list:     l,
		viewport: vp,
		help:     h,
		spinner:  sp,
		search:   ti,
		keys:     defaultPickerKeys(),

		indexing:    true,
		focusOnList: true,
		sessions:    make(map[string]index.Session),
		events:      make(map[string][]session.MessageEvent),
		rendered:    make(map[string]string),
	}
}

// ChosenID returns the session picked with enter, or "" when the picker
// was quit without choosing.
func (m Picker) ChosenID() string {
	return m.chosenID
}

func (m Picker) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.indexCmd())
}

func (m Picker) indexCmd() tea.Cmd {
	return func() tea.Msg {
		err := m.indexer.BuildIndex(context.Background())
		return indexDoneMsg{err: err}
	}
}

func (m Picker) sessionsCmd(query string) tea.Cmd {
	return func() tea.Msg {
		s, err := m.indexer.ListSessions(query, 500)
		return sessionsMsg{sessions: s, err: err}
	}
}

func (m Picker) historyCmd(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	store := m.store
	return func() tea.Msg {
		events, err := store.Load(id)
		// A corrupt tail still leaves a usable prefix to preview.
		if err != nil && !errors.Is(err, session.ErrCorruptSession) {
			return historyMsg{id: id, err: err}
		}
		return historyMsg{id: id, events: events}
	}
}

func (m Picker) exportCmd(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	events, ok := m.events[id]
	if !ok {
		return nil
	}
	toggles := transcript.Toggles{IncludeTools: m.includeTools, IncludeSystem: m.includeSystem}
	store := m.store
	exporter := m.exporter
	return func() tea.Msg {
		meta, err := store.Metadata(id)
		if err != nil {
			return exportMsg{err: err}
		}
		path, err := exporter.Export(meta, events, toggles)
		return exportMsg{path: path, err: err}
	}
}

func (m Picker) copyCmd(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	events, ok := m.events[id]
	if !ok {
		return nil
	}
	toggles := transcript.Toggles{IncludeTools: m.includeTools, IncludeSystem: m.includeSystem}
	return func() tea.Msg {
		md := transcript.BuildMarkdown(events, toggles)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := clipboard.Copy(ctx, md); err != nil {
			return copyMsg{err: err}
		}
		return copyMsg{}
	}
}

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		cmds = append(cmds, m.renderSelected(true))

	case indexDoneMsg:
		m.indexing = false
		m.err = msg.err
		if msg.err != nil {
			m.status = "Indexing failed: " + msg.err.Error()
		} else {
			m.status = "Index ready"
			cmds = append(cmds, m.sessionsCmd(m.searchQuery))
		}

	case sessionsMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Session query failed"
			break
		}
		m.applySessions(msg.sessions)
		if m.selectedID != "" {
			cmds = append(cmds, m.historyCmd(m.selectedID))
		}

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "History load failed"
			break
		}
		m.events[msg.id] = msg.events
		if m.selectedID == msg.id {
			cmds = append(cmds, m.renderSelected(true))
		}

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendered[msg.cacheKey] = msg.rendered
		if m.selectedID == msg.sessionID {
			m.viewport.SetContent(msg.rendered)
			m.viewport.GotoTop()
		}

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.status = "Exported: " + msg.path
		}

	case copyMsg:
		if msg.err != nil {
			m.err = msg.err
			if errors.Is(msg.err, clipboard.ErrToolNotFound) {
				m.status = "Could not copy: clipboard tool not found"
			} else {
				m.status = "Could not copy: " + msg.err.Error()
			}
		} else {
			m.status = "Copied transcript to clipboard"
		}

	case tea.KeyMsg:
		if m.searchMode {
			switch msg.String() {
			case "esc":
				m.searchMode = false
				m.searchQuery = ""
				m.search.SetValue("")
				m.search.Blur()
				cmds = append(cmds, m.sessionsCmd(""))
				return m, tea.Batch(cmds...)
			case "enter":
				m.searchMode = false
				m.search.Blur()
				m.searchQuery = strings.TrimSpace(m.search.Value())
				cmds = append(cmds, m.sessionsCmd(m.searchQuery))
				return m, tea.Batch(cmds...)
			}
			before := m.search.Value()
			var cmd tea.Cmd
			m.search, cmd = m.search.Update(msg)
			cmds = append(cmds, cmd)
			after := strings.TrimSpace(m.search.Value())
			if after != strings.TrimSpace(before) {
				m.searchQuery = after
				cmds = append(cmds, m.sessionsCmd(after))
			}
			return m, tea.Batch(cmds...)
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Choose):
			if m.selectedID != "" {
				m.chosenID = m.selectedID
				return m, tea.Quit
			}
			return m, nil
		case key.Matches(msg, m.keys.Search):
			m.searchMode = true
			m.search.SetValue(m.searchQuery)
			m.search.CursorEnd()
			m.search.Focus()
			return m, nil
		case key.Matches(msg, m.keys.Tab):
			m.focusOnList = !m.focusOnList
			return m, nil
		case key.Matches(msg, m.keys.ToggleOrder):
			m.oldestFirst = !m.oldestFirst
			m.applySessions(m.currentSessions())
			return m, nil
		case key.Matches(msg, m.keys.ToggleTools):
			m.includeTools = !m.includeTools
			return m, m.renderSelected(true)
		case key.Matches(msg, m.keys.ToggleSystem):
			m.includeSystem = !m.includeSystem
			return m, m.renderSelected(true)
		case key.Matches(msg, m.keys.Export):
			return m, m.exportCmd(m.selectedID)
		case key.Matches(msg, m.keys.Copy):
			return m, m.copyCmd(m.selectedID)
		}

		if m.focusOnList {
			prev := m.selectedID
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			cmds = append(cmds, cmd)
			m.selectedID = m.currentSelectedID()
			if m.selectedID != prev {
				cmds = append(cmds, m.historyCmd(m.selectedID))
				cmds = append(cmds, m.renderSelected(false))
			}
		} else {
			switch msg.String() {
			case "up", "k":
				m.viewport.LineUp(1)
			case "down", "j":
				m.viewport.LineDown(1)
			case "pgup", "b":
				m.viewport.HalfViewUp()
			case "pgdown", "f":
				m.viewport.HalfViewDown()
			}
		}
	}

	if m.indexing {
		var spin tea.Cmd
		m.spinner, spin = m.spinner.Update(msg)
		cmds = append(cmds, spin)
	}

	return m, tea.Batch(cmds...)
}

// orderedSessions applies the sort toggle. With an active search the
// backend's relevance ranking is preserved as-is.
func (m *Picker) orderedSessions(in []index.Session) []index.Session {
	out := make([]index.Session, len(in))
	copy(out, in)
	if strings.TrimSpace(m.searchQuery) != "" {
		return out
	}
	if m.oldestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (m *Picker) currentSessions() []index.Session {
	items := m.list.Items()
	out := make([]index.Session, 0, len(items))
	for _, item := range items {
		if si, ok := item.(sessionItem); ok {
			out = append(out, si.s)
		}
	}
	// Undo the current ordering so applySessions can re-apply it.
	if m.oldestFirst && strings.TrimSpace(m.searchQuery) == "" {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (m *Picker) applySessions(in []index.Session) {
	ordered := m.orderedSessions(in)
	items := make([]list.Item, 0, len(ordered))
	m.sessions = make(map[string]index.Session, len(ordered))
	for _, s := range ordered {
		m.sessions[s.ID] = s
		items = append(items, sessionItem{s: s})
	}
	m.list.SetItems(items)

	if len(ordered) == 0 {
		m.selectedID = ""
		if strings.TrimSpace(m.searchQuery) == "" {
			m.viewport.SetContent("No sessions yet. Start one with `chen`.")
		} else {
			m.viewport.SetContent("No sessions matched your search.")
		}
		return
	}

	selectIdx := 0
	if m.selectedID != "" {
		for idx, s := range ordered {
			if s.ID == m.selectedID {
				selectIdx = idx
				break
			}
		}
	}
	m.list.Select(selectIdx)
	m.selectedID = ordered[selectIdx].ID
}

func (m *Picker) currentSelectedID() string {
	item, ok := m.list.SelectedItem().(sessionItem)
	if !ok {
		return ""
	}
	return item.s.ID
}

func (m *Picker) renderSelected(force bool) tea.Cmd {
	if m.selectedID == "" {
		m.viewport.SetContent("No session selected")
		return nil
	}

	events, ok := m.events[m.selectedID]
	if !ok {
		m.viewport.SetContent("Loading history...")
		return nil
	}

	cacheKey := m.renderCacheKey(m.selectedID)
	if !force {
		if rendered, ok := m.rendered[cacheKey]; ok {
			m.viewport.SetContent(rendered)
			return nil
		}
	}
	m.renderNonce++
	nonce := m.renderNonce
	m.viewport.SetContent("Rendering transcript...")
	toggles := transcript.Toggles{IncludeTools: m.includeTools, IncludeSystem: m.includeSystem}
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	sessionID := m.selectedID
	return func() tea.Msg {
		md := transcript.BuildMarkdown(events, toggles)
		if strings.TrimSpace(md) == "" {
			md = "_No transcript content with current filters._"
		}

		rendered := md
		if r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(wrap),
		); err == nil {
			if out, renderErr := r.Render(md); renderErr == nil {
				rendered = out
			}
		}
		return renderMsg{sessionID: sessionID, cacheKey: cacheKey, rendered: rendered, nonce: nonce}
	}
}

func (m Picker) renderCacheKey(sessionID string) string {
	return fmt.Sprintf("%s|w=%d|t=%t|s=%t", sessionID, m.viewport.Width, m.includeTools, m.includeSystem)
}

func (m *Picker) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	left, right := m.paneWidths()

	bodyHeight := m.height - 2
	if bodyHeight < 8 {
		bodyHeight = 8
	}

	m.list.SetSize(left-2, bodyHeight-2)
	m.viewport.Width = right - 2
	m.viewport.Height = bodyHeight - 2
}

func (m Picker) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	status := m.statusLine()
	left, right := m.paneWidths()
	leftPane := panelStyle(m.focusOnList).Width(left).Height(m.height - 2).Render(m.list.View())
	rightPane := panelStyle(!m.focusOnList).Width(right).Height(m.height - 2).Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	helpView := m.help.View(m.keys)
	if m.searchMode {
		helpView = m.search.View() + "  " + helpView
	} else if m.searchQuery != "" {
		helpView = "search: " + m.searchQuery + "  " + helpView
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		status,
		body,
		helpView,
	)
}

func (m Picker) statusLine() string {
	status := ""
	if m.indexing {
		status = m.spinner.View() + " indexing..."
	}
	if m.selectedID != "" {
		s := m.sessions[m.selectedID]
		status = fmt.Sprintf(
			"session=%s  turns=%d  updated=%s",
			shorten(s.ID, 18),
			s.TurnCount,
			index.FormatUnix(s.UpdatedTS),
		)
	}
	if m.searchQuery != "" || m.searchMode {
		status += "  [search]"
	}
	if m.includeTools {
		status += "  [tools]"
	}
	if m.includeSystem {
		status += "  [system]"
	}
	if m.oldestFirst {
		status += "  [oldest-first]"
	}
	if strings.TrimSpace(m.status) != "" {
		status += "  " + shorten(strings.TrimSpace(m.status), 80)
	}
	if m.err != nil {
		status += "  err=" + m.err.Error()
	}
	return statusStyle.Render(status)
}

func (m *Picker) paneWidths() (int, int) {
	left := m.width / 3
	if left < 32 {
		left = 32
	}
	if left > m.width-32 {
		left = m.width - 32
	}
	if left < 20 {
		left = 20
	}
	right := m.width - left - 1
	if right < 20 {
		right = 20
	}
	return left, right
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

var statusStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("252")).
	Background(lipgloss.Color("24")).
	Padding(0, 1)

func panelStyle(active bool) lipgloss.Style {
	border := lipgloss.NormalBorder()
	if active {
		return lipgloss.NewStyle().
			Border(border, true).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	}
	return lipgloss.NewStyle().
		Border(border, true).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}

type pickerKeys struct {
	Up           key.Binding
	Down         key.Binding
	Tab          key.Binding
	Choose       key.Binding
	Search       key.Binding
	ToggleOrder  key.Binding
	ToggleTools  key.Binding
	ToggleSystem key.Binding
	Export       key.Binding
	Copy         key.Binding
	Quit         key.Binding
}

func defaultPickerKeys() pickerKeys {
	return pickerKeys{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "toggle focus"),
		),
		Choose: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "resume session"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		ToggleOrder: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "toggle order"),
		),
		ToggleTools: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "toggle tools"),
		),
		ToggleSystem: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "toggle system"),
		),
		Export: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "export markdown"),
		),
		Copy: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "copy transcript"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k pickerKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Tab, k.Choose, k.Search, k.Export, k.Quit}
}

func (k pickerKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Tab, k.Choose},
		{k.Search, k.ToggleOrder, k.ToggleTools, k.ToggleSystem},
		{k.Export, k.Copy, k.Quit},
	}
}

// RunPicker shows the session browser and returns the chosen session id,
// or "" when the user quit without choosing.
func RunPicker(idx *index.Indexer, store *session.Store, exp *transcript.Exporter) (string, error) {
	p := tea.NewProgram(NewPicker(idx, store, exp), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("run picker: %w", err)
	}
	model, ok := final.(Picker)
	if !ok {
		return "", fmt.Errorf("unexpected picker model type %T", final)
	}
	return model.ChosenID(), nil
}
