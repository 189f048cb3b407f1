package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/perfpipe/perfpipe/pkg/config"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/runner"
	"github.com/perfpipe/perfpipe/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a suite configuration file",
		Long: `Validate parses the configuration, checks its schema, and resolves
every strategy, hook and action type through the registry without executing
anything.`,
		Example: `  # Validate a suite config
  perfpipe validate --config ./suite.yaml`,
		RunE: func(_ *cobra.Command, _ []string) error {
			doc, err := config.Load(configPath)
			if err != nil {
				return err
			}

			rt := telemetry.NewTestRuntime()
			if _, err := runner.BuildSuite(doc, rt, framework.RunnerArgs{ConfigPath: configPath}); err != nil {
				return err
			}

			log.Info().Str("config", configPath).Int("tests", len(doc.Tests)).Msg("Configuration is valid")
			return nil
		},
	}
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
