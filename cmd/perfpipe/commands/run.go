package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/perfpipe/perfpipe/pkg/config"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/runner"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		exportTraces  bool
		exportMetrics bool
		otlpEndpoint  string
		dockerNoBuild bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a test suite from a config file",
		Long: `Run loads the suite configuration, builds the components, scenarios
and hooks through the strategy registry, and executes the suite. Reports
configured as post-run hooks are produced from the telemetry collected
during the run.`,
		Example: `  # Run a suite
  perfpipe run --config ./suite.yaml

  # Run with span export to a local collector
  perfpipe run --config ./suite.yaml --export-traces --otlp-endpoint localhost:4317

  # Run without rebuilding docker images
  perfpipe run --config ./suite.yaml --docker.no-build`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := config.Load(configPath)
			if err != nil {
				return err
			}

			telemetryCfg := telemetry.DefaultConfig()
			if debug {
				telemetryCfg.Logging.Level = "debug"
			}
			if exportTraces {
				telemetryCfg.Tracing.Enabled = true
				telemetryCfg.Tracing.Exporter = "otlp"
				if otlpEndpoint != "" {
					telemetryCfg.Tracing.Endpoint = otlpEndpoint
				}
			}
			rt, err := telemetry.NewRuntime(telemetryCfg)
			if err != nil {
				return framework.NewConfigError("failed to initialize telemetry", err)
			}
			defer func() {
				if err := rt.Shutdown(cmd.Context()); err != nil {
					log.Warn().Err(err).Msg("telemetry shutdown failed")
				}
			}()

			args := framework.RunnerArgs{
				ConfigPath:    configPath,
				Debug:         debug,
				ExportTraces:  exportTraces,
				ExportMetrics: exportMetrics,
				OTLPEndpoint:  otlpEndpoint,
				DockerNoBuild: dockerNoBuild,
			}
			suite, err := runner.BuildSuite(doc, rt, args)
			if err != nil {
				return err
			}

			log.Info().Str("suite", suite.Name).Int("scenarios", len(suite.Scenarios)).Msg("Starting suite")
			if err := suite.Run(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("suite", suite.Name).Msg("Suite completed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&exportTraces, "export-traces", false, "export spans over OTLP gRPC")
	cmd.Flags().BoolVar(&exportMetrics, "export-metrics", false, "export metrics over OTLP gRPC")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	cmd.Flags().BoolVar(&dockerNoBuild, "docker.no-build", false, "skip docker image builds")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
