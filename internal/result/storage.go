package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const resultsFile = "results.json"

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir, err := filepath.Abs(filepath.Join(runsDir, stamp))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// NewRunID returns a fresh identifier shared by every experiment of a run.
func NewRunID() string {
	return uuid.NewString()
}

// ExperimentDir is where one (model, language, session range) result lives.
// Slashes in ollama model names become path separators.
func ExperimentDir(runDir, model, language string, from, to int) string {
	return filepath.Join(runDir, "experiments", filepath.FromSlash(model), language, fmt.Sprintf("sessions-%d-%d", from, to))
}

func WriteExperimentResult(dir string, res *ExperimentResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating experiment dir: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, resultsFile), data, 0o644)
}

func ReadExperimentResult(path string) (*ExperimentResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	var res ExperimentResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing results %s: %w", path, err)
	}
	return &res, nil
}

// FindResults returns the paths of every results.json under runDir, sorted.
func FindResults(runDir string) ([]string, error) {
	root := filepath.Join(runDir, "experiments")
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == resultsFile {
			paths = append(paths, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no experiments in %s", runDir)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", runDir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadRun reads every experiment result of a run.
func LoadRun(runDir string) ([]*ExperimentResult, error) {
	paths, err := FindResults(runDir)
	if err != nil {
		return nil, err
	}
	results := make([]*ExperimentResult, 0, len(paths))
	for _, p := range paths {
		r, err := ReadExperimentResult(p)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
