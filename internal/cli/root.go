// Package cli implements the cfssim command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"cfssim/internal/logging"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the cfssim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cfssim",
		Short: "cfssim simulates the Linux Completely Fair Scheduler on one CPU",
		Long: "cfssim runs a workload of cpu- and io-bound tasks through a tick-driven CFS model " +
			"and reports how CPU time was divided by weight.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newWeightsCmd(),
	)
	return root
}
