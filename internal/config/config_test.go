package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/moralmachine/internal/config"
)

func TestLoadMinimal(t *testing.T) {
	cfg, err := config.Load("../../testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Experiments) != 1 {
		t.Fatalf("expected 1 experiment, got %d", len(cfg.Experiments))
	}
	if cfg.Parallel != 1 {
		t.Errorf("expected parallel default 1, got %d", cfg.Parallel)
	}
	if cfg.Results.Dir != "results" {
		t.Errorf("expected results dir default, got %q", cfg.Results.Dir)
	}
	if cfg.DatasetDir != filepath.Join("data", "preprocessed") {
		t.Errorf("unexpected dataset dir %q", cfg.DatasetDir)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.RequestTimeout() != 0 {
		t.Errorf("expected no request timeout, got %v", cfg.RequestTimeout())
	}
	runs := cfg.Runs("", "")
	if len(runs) != 1 || runs[0].To != -1 || runs[0].Include != nil {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := config.Load("../../testdata/full.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.DryRun || cfg.Parallel != 4 || cfg.SessionSlice != 50 || cfg.MockSeed != 42 {
		t.Errorf("unexpected scalars: %+v", cfg)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("request timeout = %v", cfg.RequestTimeout())
	}
	if rl := cfg.RateLimits["openai"]; rl.MaxCalls != 100 || rl.Period() != time.Minute || rl.Margin != 1.2 {
		t.Errorf("unexpected openai rate limit %+v", rl)
	}
	if cfg.Backoff.InitialMs != 500 {
		t.Errorf("unexpected backoff %+v", cfg.Backoff)
	}
	if cfg.Secrets.EnvFile == "" {
		t.Error("expected secrets env_file to be set")
	}
	if cfg.Experiments[0].Languages[1] != "pt" {
		t.Errorf("language not normalized: %v", cfg.Experiments[0].Languages)
	}
	if cfg.Local.Image != "ollama/ollama:0.3.0" {
		t.Errorf("unexpected local image %q", cfg.Local.Image)
	}

	runs := cfg.Runs("", "")
	if len(runs) != 5 {
		t.Fatalf("expected 5 runs, got %d", len(runs))
	}
	last := runs[4]
	if last.Model != "ollama/llama3" || !last.Include[7] || last.Include[8] {
		t.Errorf("unexpected local run %+v", last)
	}
	if !cfg.NeedsLocalServer(runs) {
		t.Error("expected local server for ollama run")
	}
	if cfg.NeedsLocalServer(cfg.Runs("gpt-4-0613", "")) {
		t.Error("hosted model should not need local server")
	}
	if got := cfg.Runs("gpt-4-0613", "en"); len(got) != 1 || got[0].To != 100 {
		t.Errorf("filtered runs: %+v", got)
	}
	if got := cfg.Runs("", "pt-BR"); len(got) != 2 || got[0].Language != "pt" {
		t.Errorf("runs filtered by pt-BR: %+v", got)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load("../../testdata/invalid.yaml")
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no experiments", "dry_run: true\n", "no experiments"},
		{"no models", "experiments:\n  - languages: [en]\n", "models is required"},
		{"unknown model", "experiments:\n  - models: [gpt-5]\n    languages: [en]\n", "unknown model"},
		{"no languages", "experiments:\n  - models: [dummy]\n", "languages is required"},
		{"unknown language", "experiments:\n  - models: [dummy]\n    languages: [xx]\n", "unknown language"},
		{"bad range", "experiments:\n  - models: [dummy]\n    languages: [en]\n    from_session: 5\n    to_session: 5\n", "to_session"},
		{"bad rate limit", "experiments:\n  - models: [dummy]\n    languages: [en]\nrate_limits:\n  openai: {max_calls: 0, period_s: 60}\n", "rate_limits.openai"},
		{"bad margin", "experiments:\n  - models: [dummy]\n    languages: [en]\nrate_limits:\n  openai: {max_calls: 10, period_s: 60, margin: 0.5}\n", "margin must be at least 1"},
		{"bad log level", "experiments:\n  - models: [dummy]\n    languages: [en]\nlogging: {level: loud}\n", "unknown level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "moralmachine.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := config.Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}
