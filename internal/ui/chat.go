package ui

import (
	"context"
	"fmt"
	"strings"

	"chen/internal/agent"
	"chen/internal/session"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Chat is the conversation loop for one session. Every turn is appended
// to the session log before the next provider call, so a crash mid-reply
// loses at most the reply being generated.
type Chat struct {
	sess   *session.Session
	agent  agent.Agent
	events []session.MessageEvent

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	keys     chatKeys

	width   int
	height  int
	waiting bool
	status  string
	err     error
}

type replyMsg struct {
	event session.MessageEvent
	err   error
}

func NewChat(sess *session.Session, ag agent.Agent, history []session.MessageEvent) Chat {
	ti := textinput.New()
	ti.Placeholder = "Message Chen... (/quit to exit)"
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Chat{
		sess:     sess,
		agent:    ag,
		events:   history,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		keys:     defaultChatKeys(),
	}
}

func (m Chat) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Chat) replyCmd() tea.Cmd {
	history := make([]session.MessageEvent, len(m.events))
	copy(history, m.events)
	sess := m.sess
	ag := m.agent
	return func() tea.Msg {
		ev, err := ag.Respond(context.Background(), history)
		if err != nil {
			return replyMsg{err: err}
		}
		if err := sess.Append(ev); err != nil {
			return replyMsg{err: fmt.Errorf("record reply: %w", err)}
		}
		return replyMsg{event: ev}
	}
}

func (m Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 5
		if m.viewport.Height < 5 {
			m.viewport.Height = 5
		}
		m.input.Width = msg.Width - 4
		m.refresh(false)

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.err = msg.err
			m.status = "Reply failed: " + msg.err.Error()
			break
		}
		m.err = nil
		m.status = ""
		m.events = append(m.events, msg.event)
		m.refresh(true)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			if m.waiting {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if text == "/quit" || text == "/exit" {
				return m, tea.Quit
			}
			m.input.SetValue("")

			ev := session.MessageEvent{Role: session.RoleUser, Content: text}
			if err := m.sess.Append(ev); err != nil {
				m.err = err
				m.status = "Could not record message: " + err.Error()
				return m, nil
			}
			m.events = append(m.events, ev)
			m.waiting = true
			m.refresh(true)
			cmds = append(cmds, m.replyCmd(), m.spinner.Tick)
			return m, tea.Batch(cmds...)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	if m.waiting {
		var spin tea.Cmd
		m.spinner, spin = m.spinner.Update(msg)
		cmds = append(cmds, spin)
	}

	return m, tea.Batch(cmds...)
}

func (m *Chat) refresh(toBottom bool) {
	m.viewport.SetContent(m.renderConversation())
	if toBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Chat) renderConversation() string {
	if len(m.events) == 0 {
		return hintStyle.Render("New session. Say something.")
	}

	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}

	var b strings.Builder
	for _, ev := range m.events {
		content := strings.TrimSpace(ev.Content)
		if content == "" {
			continue
		}
		switch ev.Role {
		case session.RoleUser:
			b.WriteString(youStyle.Render("You") + "\n")
			b.WriteString(content + "\n\n")
		case session.RoleAssistant:
			b.WriteString(chenStyle.Render("Chen") + "\n")
			b.WriteString(renderMarkdown(content, wrap) + "\n")
		}
	}
	return b.String()
}

func renderMarkdown(md string, wrap int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return md + "\n"
	}
	out, err := r.Render(md)
	if err != nil {
		return md + "\n"
	}
	return out
}

func (m Chat) View() string {
	header := chatHeaderStyle.Render("chen  session " + shorten(m.sess.ID(), 18))

	inputLine := m.input.View()
	if m.waiting {
		inputLine = m.spinner.View() + " thinking..."
	}

	statusLine := ""
	if m.status != "" {
		statusLine = errStyle.Render(shorten(m.status, 100))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		inputLine,
		statusLine,
	)
}

var (
	chatHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	youStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	chenStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

type chatKeys struct {
	Submit key.Binding
	Quit   key.Binding
}

func defaultChatKeys() chatKeys {
	return chatKeys{
		Submit: key.NewBinding(key.WithKeys("enter")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c", "esc")),
	}
}

// RunChat drives the conversation UI until the user exits.
func RunChat(sess *session.Session, ag agent.Agent, history []session.MessageEvent) error {
	p := tea.NewProgram(NewChat(sess, ag, history), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat: %w", err)
	}
	return nil
}
