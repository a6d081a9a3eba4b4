package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/signalnine/moralmachine/internal/agent"
	"github.com/signalnine/moralmachine/internal/model"
	"github.com/signalnine/moralmachine/internal/moralmachine"
	"github.com/signalnine/moralmachine/internal/observability"
	"github.com/signalnine/moralmachine/internal/result"
	"github.com/signalnine/moralmachine/internal/usage"
)

// ModelFactory builds a fresh model. Parallel runs call it once per worker.
type ModelFactory func() (model.Model, error)

type ExperimentOpts struct {
	Model    string
	Language string
	// Sessions are already sliced to [FromSession, ToSession).
	Sessions    []moralmachine.Session
	FromSession int
	ToSession   int
	// Include restricts play to these session IDs. Nil plays all.
	Include map[int]bool
	// Parallel is the worker count. Values below 2 run sequentially.
	Parallel int
	DryRun   bool
	NewModel ModelFactory

	RunID string
	// RunDir, if set, receives results.json under ExperimentDir.
	RunDir string

	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Progress receives one line per session. Nil disables it.
	Progress io.Writer
}

// IsConfigError reports whether err is a configuration problem that must
// abort the run instead of failing one session.
func IsConfigError(err error) bool {
	return errors.Is(err, model.ErrUnknownModel) ||
		errors.Is(err, model.ErrMissingCredential) ||
		errors.Is(err, model.ErrEmptySystemPrompt) ||
		errors.Is(err, moralmachine.ErrUnknownLanguage) ||
		errors.Is(err, moralmachine.ErrMissingSystemPrompt)
}

type sessionRecord struct {
	outcome result.Outcome
	usage   usage.APIUsage
}

// player owns one agent and its model.
type player struct {
	opts  *ExperimentOpts
	agent *agent.Agent
	total int

	progressMu *sync.Mutex
}

func (p *player) play(ctx context.Context, pos int, s moralmachine.Session) (sessionRecord, error) {
	o := p.opts
	before := p.agent.ReportUsage()
	if o.Include != nil && !o.Include[s.ID] {
		o.Logger.Debug("skipping session", "session", s.ID)
		p.count(result.KindSkipped)
		return sessionRecord{outcome: result.Skipped(), usage: zeroUsage(before)}, nil
	}

	p.progress("Running %s/%s (session %d/%d)\n", o.Model, o.Language, pos+1, p.total)
	o.Logger.Info("session start", "model", o.Model, "language", o.Language, "session", s.ID)
	start := time.Now()

	answers, err := p.agent.Play(ctx, s)
	var rec sessionRecord
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}
		if IsConfigError(err) {
			return rec, err
		}
		rec.outcome = outcomeFor(err)
		o.Logger.Warn("session failed", "model", o.Model, "language", o.Language,
			"session", s.ID, "outcome", rec.outcome.Kind(), "error", err)
	} else {
		rec.outcome = result.Answers(answers)
	}

	u, err := usage.Sub(p.agent.ReportUsage(), before)
	if err != nil {
		return rec, err
	}
	rec.usage = u
	p.count(rec.outcome.Kind())
	o.Logger.Info("session end", "model", o.Model, "language", o.Language, "session", s.ID,
		"outcome", rec.outcome.Kind(), "elapsed", time.Since(start))
	return rec, nil
}

func (p *player) count(kind string) {
	if m := p.opts.Metrics; m != nil {
		m.SessionCounter.WithLabelValues(p.opts.Model, p.opts.Language, kind).Inc()
	}
}

func (p *player) progress(format string, args ...any) {
	if p.opts.Progress == nil {
		return
	}
	p.progressMu.Lock()
	fmt.Fprintf(p.opts.Progress, format, args...)
	p.progressMu.Unlock()
}

func outcomeFor(err error) result.Outcome {
	var blocked *agent.BlockedError
	switch {
	case errors.As(err, &blocked):
		return result.Blocked(blocked.ScenarioIndex)
	case errors.Is(err, agent.ErrUnexpectedAnswer):
		return result.Failed()
	default:
		return result.Errored(err)
	}
}

// zeroUsage is an empty report that keeps the model's Unknown markers.
func zeroUsage(u usage.APIUsage) usage.APIUsage {
	z, _ := usage.Sub(u, u)
	return z
}

func (o *ExperimentOpts) newPlayer(mu *sync.Mutex) (*player, error) {
	m, err := o.NewModel()
	if err != nil {
		return nil, err
	}
	a := agent.New(m, o.Logger)
	if o.Metrics != nil {
		a.OnAttempt = func(int, int) {
			o.Metrics.SessionAttempts.WithLabelValues(o.Model, o.Language).Inc()
		}
	}
	return &player{opts: o, agent: a, total: len(o.Sessions), progressMu: mu}, nil
}

// RunExperiment plays every session of one (model, language) experiment.
// Failed sessions become placeholders. Only configuration errors and
// cancellation abort the experiment.
func RunExperiment(ctx context.Context, opts ExperimentOpts) (*result.ExperimentResult, error) {
	if opts.NewModel == nil {
		return nil, errors.New("runner: no model factory")
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	started := time.Now().UTC()
	records := make([]sessionRecord, len(opts.Sessions))

	var progressMu sync.Mutex
	workers := opts.Parallel
	if workers > len(opts.Sessions) {
		workers = len(opts.Sessions)
	}
	if workers < 2 {
		p, err := opts.newPlayer(&progressMu)
		if err != nil {
			return nil, fmt.Errorf("creating model %s: %w", opts.Model, err)
		}
		for i, s := range opts.Sessions {
			rec, err := p.play(ctx, i, s)
			if err != nil {
				return nil, err
			}
			records[i] = rec
		}
	} else if err := runParallel(ctx, &opts, workers, records, &progressMu); err != nil {
		return nil, err
	}

	res := &result.ExperimentResult{
		RunID:       opts.RunID,
		Model:       opts.Model,
		Language:    opts.Language,
		FromSession: opts.FromSession,
		ToSession:   opts.ToSession,
		DryRun:      opts.DryRun,
		StartedAt:   started,
		DurationS:   time.Since(started).Seconds(),
		Answers:     make([]result.Outcome, len(records)),
		APIUsage:    make([]usage.APIUsage, len(records)),
	}
	for i, r := range records {
		res.Answers[i] = r.outcome
		res.APIUsage[i] = r.usage
	}
	if len(res.APIUsage) > 0 {
		total, err := usage.Merge(res.APIUsage...)
		if err != nil {
			return nil, fmt.Errorf("merging usage: %w", err)
		}
		res.Total = total
	}

	if opts.RunDir != "" {
		dir := result.ExperimentDir(opts.RunDir, opts.Model, opts.Language, opts.FromSession, opts.ToSession)
		if err := result.WriteExperimentResult(dir, res); err != nil {
			return nil, err
		}
	}
	opts.Logger.Info("experiment done", "model", opts.Model, "language", opts.Language,
		"sessions", len(records), "usage", res.Total.String())
	return res, nil
}

// runParallel hands sessions to a fixed pool of players. Each player builds
// its own model; only the process-wide rate limiters are shared.
func runParallel(ctx context.Context, opts *ExperimentOpts, workers int, records []sessionRecord, mu *sync.Mutex) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	next := make(chan int)
	go func() {
		defer close(next)
		for i := range opts.Sessions {
			select {
			case next <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	jobs := make([]Job, workers)
	for w := range jobs {
		jobs[w] = func() error {
			p, err := opts.newPlayer(mu)
			if err != nil {
				cancel()
				return fmt.Errorf("creating model %s: %w", opts.Model, err)
			}
			for i := range next {
				rec, err := p.play(ctx, i, opts.Sessions[i])
				if err != nil {
					cancel()
					return err
				}
				records[i] = rec
			}
			return nil
		}
	}
	errs := RunPool(workers, jobs)
	if len(errs) == 0 {
		return nil
	}
	// Prefer the root cause over the cancellations it triggered.
	for _, err := range errs {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return errs[0]
}
