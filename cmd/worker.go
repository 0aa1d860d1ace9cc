package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"shortsq/internal/worker"
)

func workerCmd() *cobra.Command {
	var (
		port         int
		pollInterval time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker that executes tasks from the shared queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := boot()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			if cmd.Flags().Changed("poll-interval") {
				a.Config.Queue.PollInterval = pollInterval
			}
			return worker.New(a).Run(ctx, port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8081, "Port for the health and metrics endpoints")
	command.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "Queue poll interval")

	return command
}
