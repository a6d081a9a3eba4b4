package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/moralmachine/internal/config"
	"github.com/signalnine/moralmachine/internal/model"
	"github.com/signalnine/moralmachine/internal/moralmachine"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models, languages and configured experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Models:")
			for _, name := range model.Names() {
				backend := "ollama"
				if e, err := model.Lookup(name); err == nil {
					backend = e.Backend
				}
				fmt.Printf("  - %s [%s]\n", name, backend)
			}
			fmt.Printf("\nLanguages: %s\n", strings.Join(moralmachine.Languages, ", "))

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Println("\nExperiments:")
			for _, r := range cfg.Runs("", "") {
				to := "all"
				if r.To >= 0 {
					to = fmt.Sprint(r.To)
				}
				fmt.Printf("  - %s × %s (sessions %d-%s)\n", r.Model, r.Language, r.From, to)
			}
			return nil
		},
	}
}
