package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	debug      bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "perfpipe",
		Short: "PerfPipe - Pipeline Performance Test Orchestrator",
		Long: `PerfPipe deploys a distributed telemetry pipeline (load generator,
system under test, backend sink), drives it through declaratively-specified
scenarios, collects resource and throughput telemetry during well-defined
observation windows, and emits structured reports.

Features:
  - YAML-defined suites, scenarios, steps and components
  - Docker and OS-process deployment strategies
  - Container, process and Prometheus monitoring collectors
  - In-process metric/span stores with a tabular query surface
  - Pluggable report formatters and destinations, including SQL reports`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
