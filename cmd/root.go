package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shortsq/internal/app"
	"shortsq/internal/config"
	"shortsq/internal/logging"
)

func Run() {
	var command = &cobra.Command{
		Use:   "shortsq",
		Short: "Short video generation task service",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(apiCmd())
	command.AddCommand(workerCmd())
	command.AddCommand(sweepCmd())

	if err := command.Execute(); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}

// boot loads configuration, sets up logging and assembles the application.
// The returned context is cancelled on SIGINT or SIGTERM.
func boot() (context.Context, context.CancelFunc, *app.App, error) {
	cfg := config.Load()
	logging.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = log.Logger.WithContext(ctx)

	a, err := app.New(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, stop, a, nil
}
