package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ollamaBackend talks to a local Ollama server over its chat API.
type ollamaBackend struct {
	model   string
	baseURL string
	client  *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

func (b *ollamaBackend) connect(context.Context) error { return nil }

func (b *ollamaBackend) complete(ctx context.Context, history []Message) (completion, error) {
	payload := ollamaChatRequest{
		Model:   b.model,
		Stream:  false,
		Options: map[string]any{"num_predict": 1, "temperature": 0},
	}
	for _, m := range history {
		payload.Messages = append(payload.Messages, ollamaChatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return completion{}, fmt.Errorf("encoding ollama request: %w", err)
	}

	url := strings.TrimRight(b.baseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return completion{}, fmt.Errorf("building ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return completion{}, NewProviderError("ollama", b.model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion{}, NewProviderError("ollama", b.model, err)
	}
	var out ollamaChatResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode >= http.StatusBadRequest {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		pe := NewProviderError("ollama", b.model, fmt.Errorf("ollama: %s", msg)).WithStatus(resp.StatusCode)
		return completion{}, pe
	}
	if decodeErr != nil {
		return completion{}, NewProviderError("ollama", b.model, fmt.Errorf("decoding ollama response: %w", decodeErr)).WithStatus(resp.StatusCode)
	}
	if out.Error != "" {
		return completion{}, NewProviderError("ollama", b.model, fmt.Errorf("ollama: %s", out.Error))
	}
	if out.Message == nil || strings.TrimSpace(out.Message.Content) == "" {
		return completion{}, blocked("ollama returned no content")
	}
	return completion{
		Text:         out.Message.Content,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}
