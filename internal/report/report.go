package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/moralmachine/internal/pricing"
	"github.com/signalnine/moralmachine/internal/result"
	"github.com/signalnine/moralmachine/internal/usage"
)

type ExperimentSummary struct {
	Model     string `json:"model"`
	Language  string `json:"language"`
	Sessions  int    `json:"sessions"`
	Completed int    `json:"completed"`
	Blocked   int    `json:"blocked"`
	Failed    int    `json:"failed"`
	Errored   int    `json:"errored"`
	Skipped   int    `json:"skipped"`
	// OptionOneShare is the fraction of canonical answers equal to 1.
	OptionOneShare float64 `json:"option_one_share"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	CostUSD        float64 `json:"cost_usd"`
}

type ModelCost struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Generate reads every experiment of a run and writes a per model and
// language summary.
func Generate(runDir, format string, w io.Writer) error {
	results, err := result.LoadRun(runDir)
	if err != nil {
		return err
	}
	summaries, err := Summarize(results)
	if err != nil {
		return err
	}

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

// Summarize fails when the usage reports of one model and language cannot
// be merged.
func Summarize(results []*result.ExperimentResult) ([]ExperimentSummary, error) {
	type key struct{ model, language string }
	type accum struct {
		ExperimentSummary
		answers, ones int
		usage         []usage.APIUsage
	}
	byKey := map[key]*accum{}

	for _, r := range results {
		k := key{r.Model, r.Language}
		a, ok := byKey[k]
		if !ok {
			a = &accum{ExperimentSummary: ExperimentSummary{Model: r.Model, Language: r.Language}}
			byKey[k] = a
		}
		for _, o := range r.Answers {
			a.Sessions++
			switch o.Kind() {
			case result.KindCompleted:
				a.Completed++
				for _, v := range o.Answers {
					a.answers++
					if v == 1 {
						a.ones++
					}
				}
			case result.KindBlocked:
				a.Blocked++
			case result.KindFailed:
				a.Failed++
			case result.KindSkipped:
				a.Skipped++
			default:
				a.Errored++
			}
		}
		if r.Total.Name != "" {
			a.usage = append(a.usage, r.Total)
		}
	}

	summaries := make([]ExperimentSummary, 0, len(byKey))
	for _, a := range byKey {
		s := a.ExperimentSummary
		if a.answers > 0 {
			s.OptionOneShare = float64(a.ones) / float64(a.answers)
		}
		if len(a.usage) > 0 {
			total, err := usage.Merge(a.usage...)
			if err != nil {
				return nil, fmt.Errorf("usage for %s/%s: %w", s.Model, s.Language, err)
			}
			s.InputTokens = total.InputTokens
			s.OutputTokens = total.OutputTokens
			s.CostUSD = total.Cost
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Model != summaries[j].Model {
			return summaries[i].Model < summaries[j].Model
		}
		return summaries[i].Language < summaries[j].Language
	})
	return summaries, nil
}

// Costs writes the total cost per model. When table is non-nil, costs are
// recomputed from stored token counts at its rates.
func Costs(runDir string, table *pricing.Table, w io.Writer) error {
	results, err := result.LoadRun(runDir)
	if err != nil {
		return err
	}
	byModel := map[string]*ModelCost{}
	for _, r := range results {
		if r.Total.Name == "" {
			continue
		}
		c, ok := byModel[r.Model]
		if !ok {
			c = &ModelCost{Model: r.Model}
			byModel[r.Model] = c
		}
		t := r.Total
		if table != nil {
			t.Cost = recompute(table, t)
		}
		c.InputTokens = addKnown(c.InputTokens, t.InputTokens)
		c.OutputTokens = addKnown(c.OutputTokens, t.OutputTokens)
		c.CostUSD += t.Cost
	}

	costs := make([]ModelCost, 0, len(byModel))
	var total float64
	for _, c := range byModel {
		costs = append(costs, *c)
		total += c.CostUSD
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].Model < costs[j].Model })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tINPUT TOKENS\tOUTPUT TOKENS\tCOST")
	fmt.Fprintln(tw, strings.Repeat("-", 60))
	for _, c := range costs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t$%.2f\n", c.Model, tokens(c.InputTokens), tokens(c.OutputTokens), c.CostUSD)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t$%.2f\n", total)
	return tw.Flush()
}

// recompute prices a usage report named "<backend>_<model>".
func recompute(table *pricing.Table, u usage.APIUsage) float64 {
	backend, modelID, ok := strings.Cut(u.Name, "_")
	if !ok || u.InputTokens == usage.Unknown || u.OutputTokens == usage.Unknown {
		return u.Cost
	}
	if _, found := table.Lookup(backend, modelID); !found {
		return u.Cost
	}
	return table.Cost(backend, modelID, u.InputTokens, u.OutputTokens)
}

func addKnown(a, b int) int {
	if a == usage.Unknown || b == usage.Unknown {
		return usage.Unknown
	}
	return a + b
}

func tokens(n int) string {
	if n == usage.Unknown {
		return "n/a"
	}
	return fmt.Sprint(n)
}

func writeTable(summaries []ExperimentSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tLANG\tSESSIONS\tCOMPLETED\tBLOCKED\tFAILED\tERRORS\tOPTION 1\tTOKENS IN\tTOKENS OUT\tCOST")
	fmt.Fprintln(tw, strings.Repeat("-", 110))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.0f%%\t%s\t%s\t$%.2f\n",
			s.Model, s.Language, s.Sessions, s.Completed, s.Blocked, s.Failed, s.Errored,
			s.OptionOneShare*100, tokens(s.InputTokens), tokens(s.OutputTokens), s.CostUSD)
	}
	return tw.Flush()
}

func writeMarkdown(summaries []ExperimentSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Model | Language | Sessions | Completed | Blocked | Failed | Errors | Option 1 | Tokens In | Tokens Out | Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %s | %d | %d | %d | %d | %d | %.0f%% | %s | %s | $%.2f |\n",
			s.Model, s.Language, s.Sessions, s.Completed, s.Blocked, s.Failed, s.Errored,
			s.OptionOneShare*100, tokens(s.InputTokens), tokens(s.OutputTokens), s.CostUSD)
	}
	return nil
}

func writeJSON(summaries []ExperimentSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
