package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalnine/moralmachine/internal/backoff"
	"github.com/signalnine/moralmachine/internal/ratelimit"
	"github.com/signalnine/moralmachine/internal/usage"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// completion is one backend reply. Negative token counts mean the backend
// did not report them.
type completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// backend is the provider-specific half of a chat model.
type backend interface {
	// connect (re)creates the API client. It is skipped in dry run.
	connect(ctx context.Context) error
	complete(ctx context.Context, history []Message) (completion, error)
}

// chatModel keeps conversation history and token accounting for a backend
// and routes live calls through the shared rate limiter and retry loop.
type chatModel struct {
	backendName string
	modelName   string
	backend     backend
	opts        Options

	limiter *ratelimit.Limiter
	limit   ratelimit.Config
	retrier *backoff.Retrier

	// local backends report Unknown token counts.
	local bool

	history      []Message
	inputTokens  int
	outputTokens int
}

func newChatModel(backendName, modelName string, b backend, opts Options, local bool) *chatModel {
	m := &chatModel{
		backendName: backendName,
		modelName:   modelName,
		backend:     b,
		opts:        opts,
		limit:       opts.limit(backendName),
		local:       local,
	}
	if m.limit.MaxCalls > 0 {
		m.limiter = ratelimit.Shared(backendName)
		if m.limit.Margin > 0 {
			m.limiter.SetMargin(m.limit.Margin)
		}
	}
	m.retrier = backoff.NewRetrier(opts.Backoff, IsRetryable)
	m.retrier.OnRetry = func(attempt int, err error, delay time.Duration) {
		opts.Logger.Warn("transient provider error, backing off",
			"backend", backendName, "model", modelName, "attempt", attempt, "delay", delay, "error", err)
	}
	return m
}

func (m *chatModel) Reset(ctx context.Context) error {
	if !m.opts.DryRun {
		if err := m.backend.connect(ctx); err != nil {
			return fmt.Errorf("connecting to %s: %w", m.backendName, err)
		}
	}
	m.history = m.history[:0]
	m.history = append(m.history, Message{Role: RoleSystem, Content: m.opts.SystemPrompt})
	return nil
}

func (m *chatModel) Prompt(ctx context.Context, text string) (string, error) {
	if len(m.history) == 0 {
		return "", errors.New("prompt before reset")
	}
	m.history = append(m.history, Message{Role: RoleUser, Content: text})
	estIn, estOut := EstimateTokens(m.history)

	if m.opts.DryRun {
		m.inputTokens += estIn
		m.outputTokens += estOut
		m.observe("dry_run", 0, estIn, estOut)
		m.history = append(m.history, Message{Role: RoleAssistant, Content: DryRunReply})
		return DryRunReply, nil
	}

	start := time.Now()
	c, err := backoff.Do(ctx, m.retrier, func() (completion, error) {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx, m.limit.MaxCalls, m.limit.Period()); err != nil {
				return completion{}, err
			}
		}
		callCtx := ctx
		if m.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.opts.RequestTimeout)
			defer cancel()
		}
		return m.backend.complete(callCtx, m.history)
	})
	elapsed := time.Since(start)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrResponseBlocked) {
			status = "blocked"
		}
		m.observe(status, elapsed, 0, 0)
		return "", err
	}

	if !m.local && c.InputTokens >= 0 {
		if c.InputTokens != estIn {
			m.opts.Logger.Debug("input token estimate differs",
				"model", m.modelName, "estimated", estIn, "actual", c.InputTokens)
		}
		if c.OutputTokens != estOut {
			m.opts.Logger.Warn("output token estimate differs",
				"model", m.modelName, "estimated", estOut, "actual", c.OutputTokens)
		}
		m.inputTokens += c.InputTokens
		m.outputTokens += c.OutputTokens
	}
	m.observe("success", elapsed, c.InputTokens, c.OutputTokens)

	reply := strings.TrimSpace(c.Text)
	m.history = append(m.history, Message{Role: RoleAssistant, Content: reply})
	return reply, nil
}

func (m *chatModel) ReportUsage() usage.APIUsage {
	name := m.backendName + "_" + m.modelName
	if m.local {
		return usage.APIUsage{Name: name, InputTokens: usage.Unknown, OutputTokens: usage.Unknown}
	}
	return usage.APIUsage{
		Name:         name,
		InputTokens:  m.inputTokens,
		OutputTokens: m.outputTokens,
		Cost:         m.opts.Pricing.Cost(m.backendName, m.modelName, m.inputTokens, m.outputTokens),
	}
}

func (m *chatModel) observe(status string, elapsed time.Duration, in, out int) {
	mt := m.opts.Metrics
	if mt == nil {
		return
	}
	mt.LLMRequestCounter.WithLabelValues(m.backendName, m.modelName, status).Inc()
	if elapsed > 0 {
		mt.LLMRequestDuration.WithLabelValues(m.backendName, m.modelName).Observe(elapsed.Seconds())
	}
	if in > 0 {
		mt.LLMTokensUsed.WithLabelValues(m.backendName, m.modelName, "input").Add(float64(in))
	}
	if out > 0 {
		mt.LLMTokensUsed.WithLabelValues(m.backendName, m.modelName, "output").Add(float64(out))
	}
}

// splitSystem separates a leading system turn from the rest of the history.
func splitSystem(history []Message) (string, []Message) {
	if len(history) > 0 && history[0].Role == RoleSystem {
		return history[0].Content, history[1:]
	}
	return "", history
}
