package ui

import (
	"strings"
	"testing"

	"chen/internal/session"
	"chen/internal/settings"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestFlow(t *testing.T) *settings.Flow {
	t.Helper()
	store := settings.NewStore(t.TempDir())
	return settings.NewFlow(store, func(string) string { return "" })
}

func typeAndEnter(t *testing.T, m Onboard, text string) Onboard {
	t.Helper()
	if text != "" {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
		m = updated.(Onboard)
	}
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Onboard)
}

func TestOnboard_CompletesWithOneCredential(t *testing.T) {
	m := NewOnboard(newTestFlow(t))
	if m.prompt.Field.Name != settings.FieldAnthropicKey {
		t.Fatalf("first prompt = %s", m.prompt.Field.Name)
	}

	m = typeAndEnter(t, m, "")              // skip anthropic
	m = typeAndEnter(t, m, "")              // skip openai
	m = typeAndEnter(t, m, "sk-or-v1-test") // openrouter
	m = typeAndEnter(t, m, "")              // skip tavily
	m = typeAndEnter(t, m, "")              // default context window

	if !m.Completed() {
		t.Fatal("flow should have completed")
	}
}

func TestOnboard_InvalidValueShowsErrorAndReprompts(t *testing.T) {
	m := NewOnboard(newTestFlow(t))
	m = typeAndEnter(t, m, "")
	m = typeAndEnter(t, m, "")
	m = typeAndEnter(t, m, "sk-or-v1-test")
	m = typeAndEnter(t, m, "")

	m = typeAndEnter(t, m, "not-a-number")
	if m.Completed() {
		t.Fatal("invalid context window should not complete the flow")
	}
	if m.errLine == "" {
		t.Fatal("expected an error line after invalid input")
	}
	if m.prompt.Field.Name != settings.FieldContextWindow {
		t.Fatalf("should re-prompt the same field, got %s", m.prompt.Field.Name)
	}
	if !strings.Contains(m.View(), m.errLine) {
		t.Fatal("error line should be visible in the view")
	}

	m = typeAndEnter(t, m, "300000")
	if !m.Completed() {
		t.Fatal("valid retry should complete the flow")
	}
}

func TestOnboard_EscCancels(t *testing.T) {
	flow := newTestFlow(t)
	m := NewOnboard(flow)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Onboard)
	if m.Completed() {
		t.Fatal("esc should not complete the flow")
	}
	if flow.State() != settings.StateCancelled {
		t.Fatalf("flow state = %v, want cancelled", flow.State())
	}
}

func TestOnboard_SecretPromptMasksInput(t *testing.T) {
	m := NewOnboard(newTestFlow(t))
	if !m.prompt.Field.Secret {
		t.Fatal("first field should be a secret")
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("sk-ant-secret")})
	m = updated.(Onboard)
	if strings.Contains(m.View(), "sk-ant-secret") {
		t.Fatal("secret input must not be echoed in plaintext")
	}
}

func TestChatRenderConversation(t *testing.T) {
	m := Chat{events: []session.MessageEvent{
		{Role: session.RoleUser, Content: "hello"},
		{Role: session.RoleAssistant, Content: "hi there"},
	}}
	out := m.renderConversation()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "hi there") {
		t.Fatalf("conversation missing turns:\n%s", out)
	}
}
