package cmd

import (
	"os"

	"pipewatch/app/cmd/commands/alert"
	"pipewatch/app/cmd/commands/errs"
	"pipewatch/app/cmd/commands/report"
	"pipewatch/app/cmd/commands/serve"
	"pipewatch/app/cmd/commands/snapshot"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
func rootCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "pipewatch",
		Short: "Health metrics, anomaly detection and error tracking for data pipelines",
		Long: `pipewatch turns the periodic health snapshots of a data pipeline into
performance summaries, trends and anomalies, and keeps a classified log of
operational failures with advisory recovery actions.

Configuration is read from the environment and an optional .env file.

Quick start:
  pipewatch serve                       # Run the HTTP API
  pipewatch snapshot append < snap.json # Record one monitoring cycle
  pipewatch report --hours 24           # Print the metrics report
  pipewatch errors summary              # Summarize recent failures`,
	}

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(report.NewCommand())
	cmd.AddCommand(errs.NewCommand())
	cmd.AddCommand(snapshot.NewCommand())
	cmd.AddCommand(alert.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
