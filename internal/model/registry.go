package model

import (
	"fmt"
	"sort"
	"strings"
)

// Entry describes a registered model name.
type Entry struct {
	Name    string
	Backend string
	// ModelID is the provider's identifier for the model.
	ModelID string
}

const ollamaPrefix = "ollama/"

var registry = map[string]Entry{}

func register(backend string, names ...string) {
	for _, n := range names {
		registry[n] = Entry{Name: n, Backend: backend, ModelID: n}
	}
}

func init() {
	register("openai", "gpt-4-0125-preview", "gpt-4-0613", "gpt-3.5-turbo-0125", "gpt-4o")
	register("anthropic", "claude-3-opus-20240229", "claude-3-5-sonnet-20240620", "claude-3-haiku-20240307")
	register("google", "gemini-1.0-pro", "gemini-1.5-pro")
	register("bedrock",
		"meta.llama3-8b-instruct-v1:0",
		"meta.llama3-70b-instruct-v1:0",
		"mistral.mistral-7b-instruct-v0:2",
		"mistral.mixtral-8x7b-instruct-v0:1",
	)
	register("dummy", "dummy")
	register("mock", "mock")
}

// Lookup resolves a model name. Any "ollama/<tag>" name is accepted.
func Lookup(name string) (Entry, error) {
	if e, ok := registry[name]; ok {
		return e, nil
	}
	if tag, ok := strings.CutPrefix(name, ollamaPrefix); ok && tag != "" {
		return Entry{Name: name, Backend: "ollama", ModelID: tag}, nil
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// Names lists registered model names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry)+1)
	for n := range registry {
		names = append(names, n)
	}
	names = append(names, ollamaPrefix+"<tag>")
	sort.Strings(names)
	return names
}

// NeedsLocalServer reports whether the model runs on a local inference server.
func NeedsLocalServer(name string) bool {
	e, err := Lookup(name)
	return err == nil && e.Backend == "ollama"
}

// New builds a model by name. Unknown names, an empty system prompt and
// missing credentials outside dry run are configuration errors.
func New(name string, opts Options) (Model, error) {
	e, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	opts.defaults()

	switch e.Backend {
	case "dummy":
		return NewFixed("1"), nil
	case "mock":
		return NewRandom(opts.MockSeed), nil
	}

	if strings.TrimSpace(opts.SystemPrompt) == "" {
		return nil, ErrEmptySystemPrompt
	}
	if _, ok := opts.Pricing.Lookup(e.Backend, e.ModelID); !ok && e.Backend != "ollama" {
		opts.Logger.Warn("no pricing for model, cost will be reported as 0", "model", name)
	}

	var b backend
	switch e.Backend {
	case "openai":
		key, err := credential(opts, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		b = &openAIBackend{model: e.ModelID, apiKey: key, baseURL: opts.baseURL("openai")}
	case "anthropic":
		key, err := credential(opts, "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		b = &anthropicBackend{model: e.ModelID, apiKey: key, baseURL: opts.baseURL("anthropic")}
	case "google":
		key, err := credential(opts, "GOOGLE_API_KEY", "GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		b = &googleBackend{model: e.ModelID, apiKey: key, baseURL: opts.baseURL("google")}
	case "bedrock":
		region, err := credential(opts, "AWS_REGION", "AWS_DEFAULT_REGION")
		if err != nil {
			return nil, err
		}
		b = &bedrockBackend{
			model:        e.ModelID,
			region:       region,
			accessKey:    opts.Getenv("AWS_ACCESS_KEY_ID"),
			secretKey:    opts.Getenv("AWS_SECRET_ACCESS_KEY"),
			sessionToken: opts.Getenv("AWS_SESSION_TOKEN"),
			baseURL:      opts.baseURL("bedrock"),
		}
	case "ollama":
		b = &ollamaBackend{model: e.ModelID, baseURL: opts.OllamaURL, client: opts.HTTPClient}
	default:
		return nil, fmt.Errorf("%w: no backend %q", ErrUnknownModel, e.Backend)
	}

	opts.Logger.Info("created model", "model", name, "backend", e.Backend, "dry_run", opts.DryRun)
	return newChatModel(e.Backend, e.ModelID, b, opts, e.Backend == "ollama"), nil
}

// credential returns the first non-empty env var among keys. In dry run a
// missing credential is allowed.
func credential(opts Options, keys ...string) (string, error) {
	for _, k := range keys {
		if v := opts.Getenv(k); v != "" {
			return v, nil
		}
	}
	if opts.DryRun {
		return "", nil
	}
	return "", fmt.Errorf("%w: %s is not set", ErrMissingCredential, strings.Join(keys, " or "))
}
