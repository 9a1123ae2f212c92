// Package agent turns a session history into the next assistant reply by
// calling a hosted model provider over HTTP.
package agent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chen/internal/session"
	"chen/internal/settings"
)

// ErrNoProvider is returned when no credential in the settings document
// selects a provider.
var ErrNoProvider = errors.New("no model provider configured")

// Agent produces the next assistant event for a conversation.
type Agent interface {
	Respond(ctx context.Context, history []session.MessageEvent) (session.MessageEvent, error)
}

// Default models per provider, overridable through the providers' option
// functions.
const (
	DefaultAnthropicModel  = "claude-sonnet-4-20250514"
	DefaultOpenAIModel     = "gpt-5-2025-08-07"
	DefaultOpenRouterModel = "deepseek/deepseek-chat-v3.1:free"

	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	anthropicBaseURL  = "https://api.anthropic.com"
)

// approxCharsPerToken is the crude ratio used to fit history into the
// configured context window without a tokenizer.
const approxCharsPerToken = 4

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}

// FromSettings builds an agent for the first configured credential, in the
// order anthropic, openai, openrouter.
func FromSettings(doc settings.Document) (Agent, error) {
	switch {
	case doc.AnthropicAPIKey != "":
		return NewAnthropic(doc.AnthropicAPIKey, doc.ContextWindow), nil
	case doc.OpenAIAPIKey != "":
		return NewOpenAI(doc.OpenAIAPIKey, doc.ContextWindow), nil
	case doc.OpenRouterAPIKey != "":
		return NewOpenRouter(doc.OpenRouterAPIKey, doc.ContextWindow), nil
	default:
		return nil, ErrNoProvider
	}
}

// trimHistory drops events from the front until the remainder fits the
// context window, so the most recent turns always survive. The first
// event is kept when it is a system prompt.
func trimHistory(history []session.MessageEvent, contextWindow int) []session.MessageEvent {
	if contextWindow <= 0 || len(history) == 0 {
		return history
	}
	budget := contextWindow * approxCharsPerToken

	var system *session.MessageEvent
	rest := history
	if history[0].Role == session.RoleSystem {
		system = &history[0]
		rest = history[1:]
		budget -= eventSize(history[0])
	}

	total := 0
	for _, ev := range rest {
		total += eventSize(ev)
	}
	start := 0
	for start < len(rest)-1 && total > budget {
		total -= eventSize(rest[start])
		start++
	}

	if system == nil {
		return rest[start:]
	}
	out := make([]session.MessageEvent, 0, 1+len(rest)-start)
	out = append(out, *system)
	return append(out, rest[start:]...)
}

func eventSize(ev session.MessageEvent) int {
	n := len(ev.Content)
	for _, tc := range ev.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments) + len(tc.Result)
	}
	return n
}
