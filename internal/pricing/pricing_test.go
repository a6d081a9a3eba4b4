package pricing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/moralmachine/internal/pricing"
)

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestDefaultRates(t *testing.T) {
	table := pricing.Default()
	tests := []struct {
		provider, model string
		in, out         int
		want            float64
	}{
		{"openai", "gpt-4-0613", 1_000_000, 0, 30},
		{"openai", "gpt-4-0125-preview", 500_000, 1_000_000, 75},
		{"openai", "gpt-3.5-turbo-0125", 2_000_000, 2_000_000, 4},
		{"openai", "gpt-3.5-turbo-0125", 120, 1, (120*0.5 + 1.5) / 1e6},
	}
	for _, tt := range tests {
		got := table.Cost(tt.provider, tt.model, tt.in, tt.out)
		if abs(got-tt.want) > 1e-9 {
			t.Errorf("Cost(%s, %s, %d, %d) = %f, want %f", tt.provider, tt.model, tt.in, tt.out, got, tt.want)
		}
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `openai:
  gpt-4-0613:
    input: 10
    output: 20
ollama:
  llama3:
    input: 0
    output: 0
`
	path := filepath.Join(dir, "pricing.yaml")
	os.WriteFile(path, []byte(content), 0o644)

	table, err := pricing.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := table.Cost("openai", "gpt-4-0613", 1_000_000, 1_000_000); abs(got-30) > 1e-9 {
		t.Errorf("override: got %f, want 30", got)
	}
	if _, ok := table.Lookup("openai", "gpt-3.5-turbo-0125"); !ok {
		t.Error("default rate lost after override")
	}
	if _, ok := table.Lookup("ollama", "llama3"); !ok {
		t.Error("new provider not added")
	}
}

func TestCostUnknownModel(t *testing.T) {
	table := &pricing.Table{}
	if cost := table.Cost("unknown", "unknown", 1000, 500); cost != 0 {
		t.Errorf("expected 0 for unknown model, got %f", cost)
	}
	var nilTable *pricing.Table
	if _, ok := nilTable.Lookup("openai", "gpt-4-0613"); ok {
		t.Error("nil table should not find rates")
	}
}
