// Package settings owns the on-disk configuration document: its schema,
// validation, atomic persistence, and the onboarding flow that fills it in.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownField = errors.New("unknown settings field")
	ErrInvalidValue = errors.New("invalid settings value")
)

const (
	FieldAnthropicKey  = "anthropic_api_key"
	FieldOpenAIKey     = "openai_api_key"
	FieldOpenRouterKey = "openrouter_api_key"
	FieldTavilyKey     = "tavily_api_key"
	FieldContextWindow = "context_window"
)

const (
	DefaultContextWindow = 200000
	MinContextWindow     = 1024
	MaxContextWindow     = 10000000
)

// Document is the persisted configuration object. Zero credential strings
// mean "not set"; ContextWindow always carries a concrete value.
type Document struct {
	AnthropicAPIKey  string `json:"anthropic_api_key"`
	OpenAIAPIKey     string `json:"openai_api_key"`
	OpenRouterAPIKey string `json:"openrouter_api_key"`
	TavilyAPIKey     string `json:"tavily_api_key"`
	ContextWindow    int    `json:"context_window"`
}

func DefaultDocument() Document {
	return Document{ContextWindow: DefaultContextWindow}
}

// Field describes one schema entry: how it is prompted for, which
// environment variable seeds its onboarding default, and whether it counts
// toward the completeness invariant.
type Field struct {
	Name   string
	Label  string
	Hint   string // where to obtain the value
	EnvVar string
	Secret bool
	// Credential marks the LLM keys; at least one of them must be set for
	// the document to be complete. The Tavily key is a search credential
	// and does not satisfy the invariant on its own.
	Credential bool
}

var fields = []Field{
	{
		Name:       FieldAnthropicKey,
		Label:      "Anthropic API key",
		Hint:       "https://console.anthropic.com/settings/keys",
		EnvVar:     "ANTHROPIC_API_KEY",
		Secret:     true,
		Credential: true,
	},
	{
		Name:       FieldOpenAIKey,
		Label:      "OpenAI API key",
		Hint:       "https://platform.openai.com/api-keys",
		EnvVar:     "OPENAI_API_KEY",
		Secret:     true,
		Credential: true,
	},
	{
		Name:       FieldOpenRouterKey,
		Label:      "OpenRouter API key",
		Hint:       "https://openrouter.ai/settings/keys",
		EnvVar:     "OPENROUTER_API_KEY",
		Secret:     true,
		Credential: true,
	},
	{
		Name:   FieldTavilyKey,
		Label:  "Tavily API key (web search)",
		Hint:   "https://app.tavily.com/home",
		EnvVar: "TAVILY_API_KEY",
		Secret: true,
	},
	{
		Name:   FieldContextWindow,
		Label:  "Context window size (tokens)",
		EnvVar: "CONTEXT_WINDOW",
	},
}

// Fields returns the schema in declared prompt order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

func FieldByName(name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Get returns the string form of a field's current value.
func (d Document) Get(name string) (string, error) {
	switch name {
	case FieldAnthropicKey:
		return d.AnthropicAPIKey, nil
	case FieldOpenAIKey:
		return d.OpenAIAPIKey, nil
	case FieldOpenRouterKey:
		return d.OpenRouterAPIKey, nil
	case FieldTavilyKey:
		return d.TavilyAPIKey, nil
	case FieldContextWindow:
		return strconv.Itoa(d.ContextWindow), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

// Set coerces raw to the field's type and assigns it. Secrets pass through
// trimmed; the context window is parsed and range-checked. The document is
// unchanged when an error is returned.
func (d *Document) Set(name, raw string) error {
	raw = strings.TrimSpace(raw)
	switch name {
	case FieldAnthropicKey:
		d.AnthropicAPIKey = raw
	case FieldOpenAIKey:
		d.OpenAIAPIKey = raw
	case FieldOpenRouterKey:
		d.OpenRouterAPIKey = raw
	case FieldTavilyKey:
		d.TavilyAPIKey = raw
	case FieldContextWindow:
		n, err := ParseContextWindow(raw)
		if err != nil {
			return err
		}
		d.ContextWindow = n
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

func ParseContextWindow(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: context_window must be an integer, got %q", ErrInvalidValue, raw)
	}
	if n < MinContextWindow || n > MaxContextWindow {
		return 0, fmt.Errorf("%w: context_window must be between %d and %d, got %d",
			ErrInvalidValue, MinContextWindow, MaxContextWindow, n)
	}
	return n, nil
}

// Complete reports whether the document satisfies the completeness
// invariant: at least one LLM credential is set.
func (d Document) Complete() bool {
	return d.AnthropicAPIKey != "" || d.OpenAIAPIKey != "" || d.OpenRouterAPIKey != ""
}

// Mask hides a secret for display, keeping only the final 4 characters.
// Short values are masked entirely.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}

// Display returns a field-name to display-value mapping with every secret
// masked. It never affects the stored representation.
func (d Document) Display() map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		v, _ := d.Get(f.Name)
		if f.Secret {
			v = Mask(v)
		}
		out[f.Name] = v
	}
	return out
}
