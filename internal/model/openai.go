package model

import (
	"context"
	"errors"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

type openAIBackend struct {
	model   string
	apiKey  string
	baseURL string
	client  *openai.Client
}

func (b *openAIBackend) connect(context.Context) error {
	cfg := openai.DefaultConfig(b.apiKey)
	if b.baseURL != "" {
		cfg.BaseURL = b.baseURL
	}
	b.client = openai.NewClientWithConfig(cfg)
	return nil
}

func (b *openAIBackend) complete(ctx context.Context, history []Message) (completion, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	// Temperature 0 is dropped by omitempty; the smallest float32 is
	// greedy decoding in practice.
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    msgs,
		MaxTokens:   1,
		Temperature: math.SmallestNonzeroFloat32,
		N:           1,
	})
	if err != nil {
		return completion{}, b.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return completion{}, blocked("openai returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return completion{}, blocked("openai content filter")
	}
	if choice.Message.Content == "" {
		return completion{}, blocked("openai returned empty content")
	}
	return completion{
		Text:         choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (b *openAIBackend) wrapError(err error) error {
	pe := NewProviderError("openai", b.model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe = pe.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Type != "" {
			pe = pe.WithCode(apiErr.Type)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			pe = pe.WithCode(code)
		}
		pe.Message = apiErr.Message
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		pe = pe.WithStatus(reqErr.HTTPStatusCode)
	}
	return pe
}
