package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/moralmachine/internal/backoff"
	"github.com/signalnine/moralmachine/internal/model"
	"github.com/signalnine/moralmachine/internal/moralmachine"
	"github.com/signalnine/moralmachine/internal/observability"
	"github.com/signalnine/moralmachine/internal/ratelimit"
)

type Config struct {
	Experiments     []Experiment                `yaml:"experiments"`
	DatasetDir      string                      `yaml:"dataset_dir"`
	SystemPrompts   string                      `yaml:"system_prompts"`
	DryRun          bool                        `yaml:"dry_run"`
	Parallel        int                         `yaml:"parallel"`
	RequestTimeoutS float64                     `yaml:"request_timeout_s"`
	RateLimits      map[string]ratelimit.Config `yaml:"rate_limits"`
	Backoff         backoff.Policy              `yaml:"backoff"`
	Pricing         string                      `yaml:"pricing"`
	// SessionSlice splits each experiment into result dirs of this many
	// sessions. Zero keeps one dir per experiment.
	SessionSlice int                     `yaml:"session_slice"`
	MockSeed     int64                   `yaml:"mock_seed"`
	Secrets      Secrets                 `yaml:"secrets"`
	Results      Results                 `yaml:"results"`
	Logging      observability.LogConfig `yaml:"logging"`
	Local        Local                   `yaml:"local"`
	// BaseURLs overrides hosted API endpoints by backend name.
	BaseURLs map[string]string `yaml:"base_urls"`
}

// Experiment is expanded into one run per model and language.
type Experiment struct {
	Models      []string `yaml:"models"`
	Languages   []string `yaml:"languages"`
	FromSession int      `yaml:"from_session"`
	// ToSession is exclusive. Zero or negative means all sessions.
	ToSession      int   `yaml:"to_session"`
	SessionIndices []int `yaml:"session_indices"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

// Local configures the inference server used by ollama models.
type Local struct {
	Image     string `yaml:"image"`
	ModelsDir string `yaml:"models_dir"`
	// URL points at an existing server. When set no container is started.
	URL string `yaml:"url"`
}

// Run is one expanded (model, language) experiment.
type Run struct {
	Model    string
	Language string
	From     int
	// To is -1 for all sessions.
	To      int
	Include map[int]bool
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Experiments) == 0 {
		return fmt.Errorf("no experiments defined")
	}
	for i := range cfg.Experiments {
		e := &cfg.Experiments[i]
		if len(e.Models) == 0 {
			return fmt.Errorf("experiment %d: models is required", i)
		}
		for _, m := range e.Models {
			if _, err := model.Lookup(m); err != nil {
				return fmt.Errorf("experiment %d: %w", i, err)
			}
		}
		if len(e.Languages) == 0 {
			return fmt.Errorf("experiment %d: languages is required", i)
		}
		for j, l := range e.Languages {
			norm, err := moralmachine.NormalizeLanguage(l)
			if err != nil {
				return fmt.Errorf("experiment %d: %w", i, err)
			}
			e.Languages[j] = norm
		}
		if e.FromSession < 0 {
			return fmt.Errorf("experiment %d: from_session must not be negative", i)
		}
		if e.ToSession > 0 && e.ToSession <= e.FromSession {
			return fmt.Errorf("experiment %d: to_session %d must be greater than from_session %d", i, e.ToSession, e.FromSession)
		}
	}
	if cfg.DatasetDir == "" {
		cfg.DatasetDir = filepath.Join("data", "preprocessed")
	}
	if cfg.SystemPrompts == "" {
		cfg.SystemPrompts = filepath.Join("data", "system_prompts.json")
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.RequestTimeoutS < 0 {
		return fmt.Errorf("request_timeout_s must not be negative")
	}
	if cfg.SessionSlice < 0 {
		return fmt.Errorf("session_slice must not be negative")
	}
	for backend, rl := range cfg.RateLimits {
		if rl.MaxCalls < 1 || rl.PeriodS <= 0 {
			return fmt.Errorf("rate_limits.%s: max_calls and period_s must be positive", backend)
		}
		if rl.Margin != 0 && rl.Margin < 1 {
			return fmt.Errorf("rate_limits.%s: margin must be at least 1", backend)
		}
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	if f := cfg.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging: unknown format %q", f)
	}
	if cfg.Local.Image == "" {
		cfg.Local.Image = "ollama/ollama:latest"
	}
	if strings.HasPrefix(cfg.Local.ModelsDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Local.ModelsDir = filepath.Join(home, cfg.Local.ModelsDir[2:])
		}
	}
	return nil
}

// RequestTimeout is zero when no per-call bound is configured.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS * float64(time.Second))
}

// Runs expands experiments into (model, language) runs, keeping only
// those matching the non-empty filters.
func (c *Config) Runs(modelFilter, languageFilter string) []Run {
	var runs []Run
	if languageFilter != "" {
		if norm, err := moralmachine.NormalizeLanguage(languageFilter); err == nil {
			languageFilter = norm
		}
	}
	for _, e := range c.Experiments {
		var include map[int]bool
		if len(e.SessionIndices) > 0 {
			include = make(map[int]bool, len(e.SessionIndices))
			for _, idx := range e.SessionIndices {
				include[idx] = true
			}
		}
		to := e.ToSession
		if to <= 0 {
			to = -1
		}
		for _, m := range e.Models {
			if modelFilter != "" && m != modelFilter {
				continue
			}
			for _, l := range e.Languages {
				if languageFilter != "" && l != languageFilter {
					continue
				}
				runs = append(runs, Run{Model: m, Language: l, From: e.FromSession, To: to, Include: include})
			}
		}
	}
	return runs
}

// NeedsLocalServer reports whether any run uses a local model and no
// external server URL is configured.
func (c *Config) NeedsLocalServer(runs []Run) bool {
	if c.Local.URL != "" {
		return false
	}
	for _, r := range runs {
		if model.NeedsLocalServer(r.Model) {
			return true
		}
	}
	return false
}
