package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/signalnine/moralmachine/internal/config"
	"github.com/signalnine/moralmachine/internal/docker"
	"github.com/signalnine/moralmachine/internal/model"
	"github.com/signalnine/moralmachine/internal/moralmachine"
	"github.com/signalnine/moralmachine/internal/observability"
	"github.com/signalnine/moralmachine/internal/pricing"
	"github.com/signalnine/moralmachine/internal/report"
	"github.com/signalnine/moralmachine/internal/result"
	"github.com/signalnine/moralmachine/internal/runner"
	"github.com/signalnine/moralmachine/internal/secrets"
)

const dryRunEnv = "MORALMACHINE_DRY_RUN"

var (
	flagModel       string
	flagLanguage    string
	flagFrom        int
	flagTo          int
	flagParallel    int
	flagDryRun      bool
	flagMetricsAddr string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play the configured experiments",
		RunE:  runExperiments,
	}
	cmd.Flags().StringVar(&flagModel, "model", "", "filter to a single model")
	cmd.Flags().StringVar(&flagLanguage, "language", "", "filter to a single language")
	cmd.Flags().IntVar(&flagFrom, "from", -1, "first session index (overrides config)")
	cmd.Flags().IntVar(&flagTo, "to", -1, "end session index, exclusive (overrides config)")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "concurrent sessions per experiment (overrides config)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "estimate tokens without calling any model")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

// envBool reports whether an environment flag is set to a true value.
func envBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// applyRangeFlags overrides a run's session range with --from and --to.
func applyRangeFlags(r config.Run, from, to int) config.Run {
	if from >= 0 {
		r.From = from
	}
	if to >= 0 {
		r.To = to
	}
	return r
}

// sliceRanges splits [from, to) into consecutive ranges of at most size
// sessions. size <= 0 keeps one range.
func sliceRanges(from, to, size int) [][2]int {
	if to <= from {
		return nil
	}
	if size <= 0 {
		return [][2]int{{from, to}}
	}
	var out [][2]int
	for lo := from; lo < to; lo += size {
		out = append(out, [2]int{lo, min(lo+size, to)})
	}
	return out
}

func runExperiments(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	dryRun := cfg.DryRun || flagDryRun || envBool(os.Getenv(dryRunEnv))
	parallel := cfg.Parallel
	if flagParallel > 0 {
		parallel = flagParallel
	}

	runs := cfg.Runs(flagModel, flagLanguage)
	if len(runs) == 0 {
		return fmt.Errorf("no experiments match model %q and language %q", flagModel, flagLanguage)
	}

	getenv := os.Getenv
	if cfg.Secrets.EnvFile != "" {
		vars, err := secrets.LoadEnvFile(cfg.Secrets.EnvFile)
		if err != nil {
			return err
		}
		logger.Debug("loaded secrets", "keys", secrets.Keys(vars))
		getenv = secrets.Getenv(vars, nil)
	}

	prompts, err := moralmachine.LoadSystemPrompts(cfg.SystemPrompts)
	if err != nil {
		return err
	}
	table := pricing.Default()
	if cfg.Pricing != "" {
		if table, err = pricing.Load(cfg.Pricing); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	base := model.Options{
		DryRun:         dryRun,
		Limits:         cfg.RateLimits,
		Pricing:        table,
		Backoff:        cfg.Backoff,
		RequestTimeout: cfg.RequestTimeout(),
		OllamaURL:      cfg.Local.URL,
		BaseURLs:       cfg.BaseURLs,
		MockSeed:       cfg.MockSeed,
		Logger:         logger,
		Metrics:        metrics,
		Getenv:         getenv,
	}

	// Every configuration problem surfaces here, before any session runs.
	for _, r := range runs {
		prompt, err := prompts.For(r.Language)
		if err != nil {
			return err
		}
		opts := base
		opts.SystemPrompt = prompt
		opts.Logger = observability.Discard()
		if _, err := model.New(r.Model, opts); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagMetricsAddr != "" {
		srv := &http.Server{
			Addr:              flagMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", flagMetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		fmt.Printf("Metrics: http://%s/metrics\n", flagMetricsAddr)
	}

	if !dryRun && cfg.NeedsLocalServer(runs) {
		srv, err := docker.StartServer(ctx, docker.ServerOpts{
			Image:     cfg.Local.Image,
			ModelsDir: cfg.Local.ModelsDir,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("starting local inference server: %w", err)
		}
		defer srv.Stop()
		for _, tag := range localTags(runs) {
			if err := srv.Pull(ctx, tag, nil); err != nil {
				return err
			}
		}
		base.OllamaURL = srv.URL()
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	runID := result.NewRunID()
	fmt.Printf("Run directory: %s\n", runDir)
	logger.Info("run started", "run_id", runID, "experiments", len(runs), "dry_run", dryRun, "parallel", parallel)

	for _, r := range runs {
		r = applyRangeFlags(r, flagFrom, flagTo)
		if err := runOne(ctx, cfg, r, base, prompts, parallel, runDir, runID, logger); err != nil {
			return err
		}
	}

	fmt.Println("\n--- Results ---")
	return report.Generate(runDir, "table", os.Stdout)
}

func runOne(ctx context.Context, cfg *config.Config, r config.Run, base model.Options, prompts moralmachine.SystemPrompts,
	parallel int, runDir, runID string, logger *slog.Logger) error {
	sessions, err := moralmachine.LoadSessions(cfg.DatasetDir, r.Language, r.From, r.To)
	if err != nil {
		return err
	}
	prompt, err := prompts.For(r.Language)
	if err != nil {
		return err
	}
	opts := base
	opts.SystemPrompt = prompt
	factory := func() (model.Model, error) { return model.New(r.Model, opts) }

	to := r.From + len(sessions)
	for _, rng := range sliceRanges(r.From, to, cfg.SessionSlice) {
		fmt.Printf("Running %s × %s (sessions %d-%d)...\n", r.Model, r.Language, rng[0], rng[1])
		res, err := runner.RunExperiment(ctx, runner.ExperimentOpts{
			Model:       r.Model,
			Language:    r.Language,
			Sessions:    sessions[rng[0]-r.From : rng[1]-r.From],
			FromSession: rng[0],
			ToSession:   rng[1],
			Include:     r.Include,
			Parallel:    parallel,
			DryRun:      base.DryRun,
			NewModel:    factory,
			RunID:       runID,
			RunDir:      runDir,
			Logger:      logger.With("model", r.Model, "language", r.Language),
			Metrics:     base.Metrics,
			Progress:    os.Stdout,
		})
		if err != nil {
			return fmt.Errorf("%s × %s: %w", r.Model, r.Language, err)
		}
		fmt.Printf("  %s\n", res.Total)
	}
	return nil
}

func localTags(runs []config.Run) []string {
	seen := map[string]bool{}
	var tags []string
	for _, r := range runs {
		e, err := model.Lookup(r.Model)
		if err != nil || e.Backend != "ollama" || seen[e.ModelID] {
			continue
		}
		seen[e.ModelID] = true
		tags = append(tags, e.ModelID)
	}
	return tags
}
