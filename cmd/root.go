package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/moralmachine/internal/config"
	"github.com/signalnine/moralmachine/internal/observability"
)

var (
	cfgFile       string
	flagLogLevel  string
	flagLogFormat string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "moralmachine",
		Short:        "Run moral machine experiments against language models",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "moralmachine.yaml", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format (text, json); overrides config")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCostCmd())
	return root
}

// loadConfig reads the config file and builds the logger it describes.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Logging), nil
}

func newLogger(lc observability.LogConfig) *slog.Logger {
	if flagLogLevel != "" {
		lc.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		lc.Format = flagLogFormat
	}
	return observability.NewLogger(lc)
}

// resolveRunDir returns args[0] or the latest run under the configured
// results dir, with symlinks resolved.
func resolveRunDir(args []string) (string, error) {
	var runDir string
	if len(args) > 0 {
		runDir = args[0]
	} else {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return "", err
		}
		runDir = filepath.Join(cfg.Results.Dir, "latest")
	}
	resolved, err := filepath.EvalSymlinks(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	return resolved, nil
}
