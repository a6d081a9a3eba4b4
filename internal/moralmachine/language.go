package moralmachine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/language"
)

var (
	ErrUnknownLanguage     = errors.New("unknown language")
	ErrMissingSystemPrompt = errors.New("missing system prompt")
)

// Languages lists the dataset languages. "kr" is the dataset's code for
// Korean and is kept as-is.
var Languages = []string{"ar", "de", "en", "es", "fr", "ja", "kr", "pt", "ru", "zh"}

// NormalizeLanguage strips any region or script subtag ("pt-BR" -> "pt")
// and checks the result against Languages.
func NormalizeLanguage(lang string) (string, error) {
	raw := strings.TrimSpace(lang)
	if raw == "" {
		return "", fmt.Errorf("%w: empty language", ErrUnknownLanguage)
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	base := strings.ToLower(parts[0])
	if tag, err := language.Parse(raw); err == nil {
		b, _ := tag.Base()
		base = b.String()
	}
	if !slices.Contains(Languages, base) {
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	return base, nil
}

// SystemPrompts maps a language code to the system prompt sent at the start
// of every session.
type SystemPrompts map[string]string

func LoadSystemPrompts(path string) (SystemPrompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system prompts: %w", err)
	}
	var prompts SystemPrompts
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parsing system prompts %s: %w", path, err)
	}
	return prompts, nil
}

func (p SystemPrompts) For(lang string) (string, error) {
	prompt, ok := p[lang]
	if !ok || strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w for language %q", ErrMissingSystemPrompt, lang)
	}
	return prompt, nil
}
