package ui

import (
	"errors"
	"fmt"
	"strings"

	"chen/internal/settings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Onboard walks the settings fields one prompt at a time. Nothing is
// written to disk until every answer validates and the flow finalizes;
// esc abandons the run without touching the settings file.
type Onboard struct {
	flow  *settings.Flow
	input textinput.Model
	keys  onboardKeys

	prompt    settings.Prompt
	active    bool
	completed bool
	errLine   string
	width     int
}

func NewOnboard(flow *settings.Flow) Onboard {
	ti := textinput.New()
	ti.CharLimit = 512
	ti.Width = 60
	ti.Focus()

	m := Onboard{
		flow:  flow,
		input: ti,
		keys:  defaultOnboardKeys(),
	}
	m.advance()
	return m
}

// Completed reports whether the flow finalized and wrote the settings
// document.
func (m Onboard) Completed() bool {
	return m.completed
}

func (m *Onboard) advance() {
	prompt, ok := m.flow.Current()
	if !ok {
		m.active = false
		return
	}
	m.active = true
	m.prompt = prompt
	m.input.SetValue("")
	if prompt.Field.Secret {
		m.input.EchoMode = textinput.EchoPassword
		m.input.EchoCharacter = '*'
	} else {
		m.input.EchoMode = textinput.EchoNormal
	}
	m.input.Placeholder = placeholderFor(prompt)
	m.input.Focus()
}

func placeholderFor(p settings.Prompt) string {
	if p.Default != "" {
		if p.Field.Secret {
			return "enter to use " + settings.Mask(p.Default)
		}
		return "enter to use " + p.Default
	}
	if p.Field.Credential || p.Field.Secret {
		return "enter to skip"
	}
	return ""
}

func (m Onboard) Init() tea.Cmd {
	return textinput.Blink
}

func (m Onboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel):
			m.flow.Cancel()
			m.active = false
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			done, err := m.flow.Answer(m.input.Value())
			if err != nil {
				m.errLine = errorLineFor(err)
				m.advance()
				return m, nil
			}
			m.errLine = ""
			if done {
				m.completed = true
				m.active = false
				return m, tea.Quit
			}
			m.advance()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func errorLineFor(err error) string {
	switch {
	case errors.Is(err, settings.ErrNoCredential):
		return err.Error()
	case errors.Is(err, settings.ErrInvalidValue):
		return "Invalid value: " + strings.TrimPrefix(err.Error(), settings.ErrInvalidValue.Error()+": ")
	default:
		return err.Error()
	}
}

func (m Onboard) View() string {
	if !m.active {
		if m.completed {
			return doneStyle.Render("Settings saved.") + "\n"
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(onboardTitleStyle.Render("Chen setup") + "\n\n")
	if m.prompt.Retry {
		b.WriteString(retryStyle.Render("One more pass: at least one model API key is needed.") + "\n\n")
	}

	b.WriteString(labelStyle.Render(m.prompt.Field.Label) + "\n")
	if m.prompt.Field.Hint != "" {
		b.WriteString(hintStyle.Render(m.prompt.Field.Hint) + "\n")
	}
	if m.prompt.Default != "" && m.prompt.Field.EnvVar != "" {
		b.WriteString(hintStyle.Render("found in $"+m.prompt.Field.EnvVar) + "\n")
	}
	b.WriteString("\n" + m.input.View() + "\n")

	if m.errLine != "" {
		b.WriteString("\n" + errStyle.Render(m.errLine) + "\n")
	}
	b.WriteString("\n" + hintStyle.Render("enter: accept  esc: cancel") + "\n")
	return b.String()
}

var (
	onboardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle        = lipgloss.NewStyle().Bold(true)
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	retryStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type onboardKeys struct {
	Submit key.Binding
	Cancel key.Binding
}

func defaultOnboardKeys() onboardKeys {
	return onboardKeys{
		Submit: key.NewBinding(key.WithKeys("enter")),
		Cancel: key.NewBinding(key.WithKeys("esc", "ctrl+c")),
	}
}

// RunOnboarding drives the wizard to completion in an interactive
// terminal. It reports whether settings were saved.
func RunOnboarding(flow *settings.Flow) (bool, error) {
	p := tea.NewProgram(NewOnboard(flow))
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("run onboarding: %w", err)
	}
	model, ok := final.(Onboard)
	if !ok {
		return false, fmt.Errorf("unexpected onboarding model type %T", final)
	}
	return model.Completed(), nil
}
