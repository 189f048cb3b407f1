package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perfpipe/perfpipe/cmd/perfpipe/commands"
	"github.com/perfpipe/perfpipe/pkg/framework"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Exit codes: 0 success, 1 validation error, 2 runtime failure.
const (
	exitValidationError = 1
	exitRuntimeFailure  = 2
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		var fe *framework.FrameworkError
		if errors.As(err, &fe) && fe.Kind == framework.KindConfig {
			os.Exit(exitValidationError)
		}
		os.Exit(exitRuntimeFailure)
	}
}
