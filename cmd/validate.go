package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/moralmachine/internal/result"
	"github.com/signalnine/moralmachine/internal/validation"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [run-dir]",
		Short: "Check stored results for malformed sessions",
		Long:  "Walk a run directory and check every results.json. Problems are reported with the session indices to re-run; results are never modified.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir, err := resolveRunDir(args)
			if err != nil {
				return err
			}
			paths, err := result.FindResults(runDir)
			if err != nil {
				return err
			}

			var total int
			for _, path := range paths {
				res, err := result.ReadExperimentResult(path)
				if err != nil {
					fmt.Printf("%s: %v\n", path, err)
					total++
					continue
				}
				issues := validation.Check(res, 0)
				label := fmt.Sprintf("%s/%s sessions %d-%d", res.Model, res.Language, res.FromSession, res.ToSession)
				if len(issues) == 0 {
					fmt.Printf("%s: ok (%.0f%% complete)\n", label, validation.CompletionRate(res)*100)
					continue
				}
				total += len(issues)
				fmt.Printf("%s: %d issues\n", label, len(issues))
				for _, is := range issues {
					fmt.Printf("  %s\n", is)
				}
				if rerun := validation.RerunSessions(issues); len(rerun) > 0 {
					fmt.Printf("  re-run sessions: %s\n", joinInts(rerun))
				}
			}
			if total > 0 {
				return fmt.Errorf("found %d issues in %s", total, runDir)
			}
			return nil
		},
	}
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}
