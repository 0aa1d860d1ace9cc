package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shortsq/internal/api"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := boot()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			if !cmd.Flags().Changed("port") {
				port = a.Config.App.Port
			}

			// Work left on a durable queue by a previous run starts right away.
			if n := a.Scheduler.Drain(ctx); n > 0 {
				log.Info().Int("dispatched", n).Msg("resumed queued tasks")
			}
			if a.Durable() {
				go func() { _ = a.Poller().Run(ctx) }()
			}
			if err := a.StartJanitor(ctx); err != nil {
				return err
			}

			server := api.NewServer(api.Config{
				Submitter: a.Submitter,
				Registry:  a.Registry,
				Workspace: a.Workspace,
				SongDir:   a.Config.App.SongDir,
				Endpoint:  a.Config.App.Endpoint,
				Metrics:   a.Metrics,
			})
			if err := server.Run(ctx, port); err != nil {
				return err
			}

			running, _ := a.Scheduler.Stats()
			log.Info().Int("running", running).Msg("waiting for in-flight tasks")
			a.Scheduler.Wait()
			return nil
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
