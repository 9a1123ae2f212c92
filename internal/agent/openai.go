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

// OpenAICompatible speaks the chat completions wire format shared by
// OpenAI and OpenRouter.
type OpenAICompatible struct {
	baseURL       string
	apiKey        string
	model         string
	contextWindow int
	client        *http.Client
}

func NewOpenAI(apiKey string, contextWindow int) *OpenAICompatible {
	return &OpenAICompatible{
		baseURL:       openAIBaseURL,
		apiKey:        apiKey,
		model:         DefaultOpenAIModel,
		contextWindow: contextWindow,
		client:        defaultHTTPClient(),
	}
}

func NewOpenRouter(apiKey string, contextWindow int) *OpenAICompatible {
	return &OpenAICompatible{
		baseURL:       openRouterBaseURL,
		apiKey:        apiKey,
		model:         DefaultOpenRouterModel,
		contextWindow: contextWindow,
		client:        defaultHTTPClient(),
	}
}

// WithBaseURL points the provider at a different endpoint. Used by tests
// and by self-hosted OpenAI-compatible gateways.
func (a *OpenAICompatible) WithBaseURL(baseURL string) *OpenAICompatible {
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

func (a *OpenAICompatible) WithModel(model string) *OpenAICompatible {
	a.model = model
	return a
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OpenAICompatible) Respond(ctx context.Context, history []session.MessageEvent) (session.MessageEvent, error) {
	trimmed := trimHistory(history, a.contextWindow)
	messages := make([]chatMessage, 0, len(trimmed))
	for _, ev := range trimmed {
		content := strings.TrimSpace(ev.Content)
		if content == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: string(ev.Role), Content: content})
	}

	body, err := json.Marshal(chatRequest{Model: a.model, Messages: messages})
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return session.MessageEvent{}, fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return session.MessageEvent{}, fmt.Errorf("parse chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return session.MessageEvent{}, fmt.Errorf("provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return session.MessageEvent{}, fmt.Errorf("provider error: status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return session.MessageEvent{}, fmt.Errorf("provider returned no choices")
	}

	return session.MessageEvent{
		Role:      session.RoleAssistant,
		Content:   strings.TrimSpace(parsed.Choices[0].Message.Content),
		Timestamp: time.Now().UTC(),
	}, nil
}
