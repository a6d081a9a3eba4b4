package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/moralmachine/internal/pricing"
	"github.com/signalnine/moralmachine/internal/report"
)

var flagPricing string

func newCostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost [run-dir]",
		Short: "Show total cost per model",
		Long:  "Sum the stored usage of every experiment in a run. With --pricing, costs are recomputed from token counts at the given rates.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir, err := resolveRunDir(args)
			if err != nil {
				return err
			}
			var table *pricing.Table
			if flagPricing != "" {
				if table, err = pricing.Load(flagPricing); err != nil {
					return err
				}
			}
			return report.Costs(runDir, table, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagPricing, "pricing", "", "YAML rate table to recompute costs with")
	return cmd
}
