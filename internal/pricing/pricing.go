package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPricing holds USD rates per one million tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Table struct {
	Providers map[string]map[string]ModelPricing
}

// Default returns the built-in published rates.
func Default() *Table {
	return &Table{Providers: map[string]map[string]ModelPricing{
		"openai": {
			"gpt-4-0125-preview": {Input: 30, Output: 60},
			"gpt-4-0613":         {Input: 30, Output: 60},
			"gpt-3.5-turbo-0125": {Input: 0.5, Output: 1.5},
			"gpt-4o":             {Input: 5, Output: 15},
		},
		"anthropic": {
			"claude-3-opus-20240229":     {Input: 15, Output: 75},
			"claude-3-5-sonnet-20240620": {Input: 3, Output: 15},
			"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},
		},
		"google": {
			"gemini-1.0-pro": {Input: 0.5, Output: 1.5},
			"gemini-1.5-pro": {Input: 3.5, Output: 10.5},
		},
		"bedrock": {
			"meta.llama3-8b-instruct-v1:0":       {Input: 0.3, Output: 0.6},
			"meta.llama3-70b-instruct-v1:0":      {Input: 2.65, Output: 3.5},
			"mistral.mistral-7b-instruct-v0:2":   {Input: 0.15, Output: 0.2},
			"mistral.mixtral-8x7b-instruct-v0:1": {Input: 0.45, Output: 0.7},
		},
	}}
}

// Load reads a YAML rate table (provider -> model -> rates) and layers it
// over the built-in defaults.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	t := Default()
	for provider, models := range providers {
		if t.Providers[provider] == nil {
			t.Providers[provider] = map[string]ModelPricing{}
		}
		for model, p := range models {
			t.Providers[provider][model] = p
		}
	}
	return t, nil
}

func (t *Table) Lookup(provider, model string) (ModelPricing, bool) {
	if t == nil || t.Providers == nil {
		return ModelPricing{}, false
	}
	p, ok := t.Providers[provider][model]
	return p, ok
}

// Cost returns the USD cost of a token count. Prices are per 1M tokens.
// Unknown models cost 0.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	p, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}
