package result_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/moralmachine/internal/result"
	"github.com/signalnine/moralmachine/internal/usage"
)

func TestWriteAndReadExperimentResult(t *testing.T) {
	dir := result.ExperimentDir(t.TempDir(), "gpt-4-0613", "en", 0, 3)
	res := &result.ExperimentResult{
		RunID:       result.NewRunID(),
		Model:       "gpt-4-0613",
		Language:    "en",
		FromSession: 0,
		ToSession:   3,
		Answers: []result.Outcome{
			result.Answers([]int{1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1, 2, 1}),
			result.Blocked(4),
			result.Failed(),
		},
		APIUsage: []usage.APIUsage{{Name: "openai_gpt-4-0613", InputTokens: 10, OutputTokens: 13, Cost: 0.01}},
		Total:    usage.APIUsage{Name: "openai_gpt-4-0613", InputTokens: 10, OutputTokens: 13, Cost: 0.01},
	}
	if err := result.WriteExperimentResult(dir, res); err != nil {
		t.Fatalf("WriteExperimentResult: %v", err)
	}
	got, err := result.ReadExperimentResult(filepath.Join(dir, "results.json"))
	if err != nil {
		t.Fatalf("ReadExperimentResult: %v", err)
	}
	if got.RunID != res.RunID {
		t.Errorf("run_id: got %q, want %q", got.RunID, res.RunID)
	}
	if len(got.Answers) != 3 {
		t.Fatalf("got %d answers, want 3", len(got.Answers))
	}
	if !got.Answers[0].Completed() || len(got.Answers[0].Answers) != 13 {
		t.Errorf("first session: %+v", got.Answers[0])
	}
	if got.Answers[1].Placeholder != "blocked: scenario 4" {
		t.Errorf("second session: %+v", got.Answers[1])
	}
	if got.Total != res.Total {
		t.Errorf("total: got %+v, want %+v", got.Total, res.Total)
	}
}

func TestOutcomeJSON(t *testing.T) {
	data, err := json.Marshal([]result.Outcome{result.Answers([]int{1, 2}), result.Skipped()})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[[1,2],"skipped"]` {
		t.Errorf("got %s", data)
	}
}

func TestOutcomeKind(t *testing.T) {
	tests := []struct {
		o    result.Outcome
		want string
	}{
		{result.Answers([]int{1}), result.KindCompleted},
		{result.Blocked(0), result.KindBlocked},
		{result.Failed(), result.KindFailed},
		{result.Errored(errors.New("401")), result.KindError},
		{result.Skipped(), result.KindSkipped},
	}
	for _, tt := range tests {
		if got := tt.o.Kind(); got != tt.want {
			t.Errorf("Kind(%+v) = %q, want %q", tt.o, got, tt.want)
		}
	}
}

func TestCreateRunDir(t *testing.T) {
	base := t.TempDir()
	runDir, err := result.CreateRunDir(base)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		t.Errorf("run directory not created: %s", runDir)
	}
	target, err := os.Readlink(filepath.Join(base, "latest"))
	if err != nil {
		t.Fatalf("reading latest symlink: %v", err)
	}
	if target != runDir {
		t.Errorf("latest symlink: got %q, want %q", target, runDir)
	}
}

func TestExperimentDir(t *testing.T) {
	base := t.TempDir()
	dir := result.ExperimentDir(base, "ollama/llama3", "de", 50, 100)
	expected := filepath.Join(base, "experiments", "ollama", "llama3", "de", "sessions-50-100")
	if dir != expected {
		t.Errorf("got %q, want %q", dir, expected)
	}
}

func TestLoadRun(t *testing.T) {
	runDir := t.TempDir()
	for _, lang := range []string{"en", "de"} {
		res := &result.ExperimentResult{Model: "dummy", Language: lang}
		if err := result.WriteExperimentResult(result.ExperimentDir(runDir, "dummy", lang, 0, 1), res); err != nil {
			t.Fatal(err)
		}
	}
	results, err := result.LoadRun(runDir)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if len(results) != 2 || results[0].Language != "de" {
		t.Errorf("unexpected results: %+v", results)
	}
	if _, err := result.LoadRun(t.TempDir()); err == nil {
		t.Error("expected error for empty run dir")
	}
}
