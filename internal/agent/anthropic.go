package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chen/internal/session"
)

// Anthropic speaks the messages API, which keeps the system prompt out of
// the message list and requires a max_tokens value.
type Anthropic struct {
	baseURL       string
	apiKey        string
	model         string
	contextWindow int
	maxTokens     int
	client        *http.Client
}

func NewAnthropic(apiKey string, contextWindow int) *Anthropic {
	return &Anthropic{
		baseURL:       anthropicBaseURL,
		apiKey:        apiKey,
		model:         DefaultAnthropicModel,
		contextWindow: contextWindow,
		maxTokens:     4096,
		client:        defaultHTTPClient(),
	}
}

func (a *Anthropic) WithBaseURL(baseURL string) *Anthropic {
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

func (a *Anthropic) WithModel(model string) *Anthropic {
	a.model = model
	return a
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) Respond(ctx context.Context, history []session.MessageEvent) (session.MessageEvent, error) {
	trimmed := trimHistory(history, a.contextWindow)

	var system string
	messages := make([]anthropicMessage, 0, len(trimmed))
	for _, ev := range trimmed {
		content := strings.TrimSpace(ev.Content)
		if content == "" {
			continue
		}
		switch ev.Role {
		case session.RoleSystem:
			system = content
		case session.RoleUser, session.RoleAssistant:
			messages = append(messages, anthropicMessage{Role: string(ev.Role), Content: content})
		}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("encode messages request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("build messages request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("read messages response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return session.MessageEvent{}, fmt.Errorf("parse messages response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return session.MessageEvent{}, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return session.MessageEvent{}, fmt.Errorf("provider error: status %d", resp.StatusCode)
	}

	var b strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return session.MessageEvent{}, fmt.Errorf("provider returned no text content")
	}

	return session.MessageEvent{
		Role:      session.RoleAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}, nil
}
