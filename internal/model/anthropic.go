package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicBackend struct {
	model   string
	apiKey  string
	baseURL string
	client  anthropic.Client
}

func (b *anthropicBackend) connect(context.Context) error {
	opts := []option.RequestOption{option.WithAPIKey(b.apiKey)}
	if b.baseURL != "" {
		opts = append(opts, option.WithBaseURL(b.baseURL))
	}
	// Retries are handled by the caller's backoff loop.
	opts = append(opts, option.WithMaxRetries(0))
	b.client = anthropic.NewClient(opts...)
	return nil
}

func (b *anthropicBackend) complete(ctx context.Context, history []Message) (completion, error) {
	system, turns := splitSystem(history)
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   1,
		Temperature: anthropic.Float(0),
		Messages:    msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return completion{}, b.wrapError(err)
	}
	if msg.StopReason == "refusal" {
		return completion{}, blocked("anthropic refused to answer")
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return completion{}, blocked("anthropic returned no text")
	}
	return completion{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *anthropicBackend) wrapError(err error) error {
	pe := NewProviderError("anthropic", b.model, err)
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return pe
	}
	pe = pe.WithStatus(apiErr.StatusCode).WithRequestID(apiErr.RequestID)
	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Type != "" {
			pe = pe.WithCode(payload.Error.Type)
		}
		if payload.Error.Message != "" {
			pe.Message = payload.Error.Message
		}
	}
	return pe
}
