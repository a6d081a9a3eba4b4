package model

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

type googleBackend struct {
	model   string
	apiKey  string
	baseURL string
	client  *genai.Client
}

func (b *googleBackend) connect(ctx context.Context) error {
	cfg := &genai.ClientConfig{
		APIKey:  b.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if b.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: b.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return b.wrapError(err)
	}
	b.client = client
	return nil
}

// complete sends the system prompt as the first user turn. Older Gemini
// models do not accept a system instruction.
func (b *googleBackend) complete(ctx context.Context, history []Message) (completion, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	cfg := &genai.GenerateContentConfig{
		CandidateCount:  1,
		MaxOutputTokens: 1,
		Temperature:     genai.Ptr[float32](0),
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return completion{}, b.wrapError(err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return completion{}, blocked("gemini prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return completion{}, blocked("gemini returned no candidates")
	}
	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		return completion{}, blocked("gemini finish reason %s", cand.FinishReason)
	}
	var text strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return completion{}, blocked("gemini returned no text")
	}

	c := completion{Text: text.String(), InputTokens: -1, OutputTokens: -1}
	if u := resp.UsageMetadata; u != nil {
		c.InputTokens = int(u.PromptTokenCount)
		c.OutputTokens = int(u.CandidatesTokenCount)
	}
	return c, nil
}

func (b *googleBackend) wrapError(err error) error {
	pe := NewProviderError("google", b.model, err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe = pe.WithStatus(apiErr.Code)
		if apiErr.Status != "" {
			pe = pe.WithCode(apiErr.Status)
		}
		return pe
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "429"):
		pe = pe.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "401"):
		pe = pe.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "503"):
		pe = pe.WithStatus(http.StatusServiceUnavailable)
	}
	return pe
}
