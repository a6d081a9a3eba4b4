// Package model adapts conversational LLM backends to a single
// prompt/reset/usage interface.
package model

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/signalnine/moralmachine/internal/backoff"
	"github.com/signalnine/moralmachine/internal/observability"
	"github.com/signalnine/moralmachine/internal/pricing"
	"github.com/signalnine/moralmachine/internal/ratelimit"
	"github.com/signalnine/moralmachine/internal/usage"
)

// DryRunReply is returned by every Prompt in dry-run mode.
const DryRunReply = "1"

// Model is one conversation with a backend. Implementations are not safe
// for concurrent use.
type Model interface {
	// Prompt sends a user turn and returns the trimmed assistant reply.
	Prompt(ctx context.Context, text string) (string, error)
	// Reset starts a new conversation seeded with the system prompt.
	Reset(ctx context.Context) error
	// ReportUsage returns cumulative counters since the model was created.
	ReportUsage() usage.APIUsage
}

// Options configures model construction.
type Options struct {
	SystemPrompt string
	DryRun       bool

	// Limits overrides the default per-backend rate limits.
	Limits  map[string]ratelimit.Config
	Pricing *pricing.Table
	Backoff backoff.Policy
	// RequestTimeout bounds a single provider call. Zero means no bound.
	RequestTimeout time.Duration

	// OllamaURL is the base URL of the local inference server.
	OllamaURL string
	// BaseURLs overrides hosted API endpoints by backend name.
	BaseURLs   map[string]string
	HTTPClient *http.Client
	MockSeed   int64

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Getenv  func(string) string
}

// DefaultLimits are conservative published limits per backend.
var DefaultLimits = map[string]ratelimit.Config{
	"openai":    {MaxCalls: 500, PeriodS: 60},
	"anthropic": {MaxCalls: 50, PeriodS: 60},
	"google":    {MaxCalls: 60, PeriodS: 60},
	"bedrock":   {MaxCalls: 100, PeriodS: 60},
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = observability.Discard()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.Pricing == nil {
		o.Pricing = pricing.Default()
	}
	if o.Backoff == (backoff.Policy{}) {
		o.Backoff = backoff.ProviderPolicy()
	}
	if o.OllamaURL == "" {
		o.OllamaURL = "http://localhost:11434"
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
}

func (o *Options) limit(backend string) ratelimit.Config {
	if c, ok := o.Limits[backend]; ok && c.MaxCalls > 0 {
		return c
	}
	return DefaultLimits[backend]
}

func (o *Options) baseURL(backend string) string {
	return o.BaseURLs[backend]
}
