package cmd

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var retention time.Duration

	var command = &cobra.Command{
		Use:   "sweep",
		Short: "Remove finished tasks older than the retention period once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, a, err := boot()
			if err != nil {
				return err
			}
			defer stop()
			defer a.Close()

			if cmd.Flags().Changed("retention") {
				a.Janitor.Retention = retention
			}
			n, err := a.Janitor.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("removed", n).Dur("retention", a.Janitor.Retention).Msg("sweep finished")
			return nil
		},
	}

	command.Flags().DurationVar(&retention, "retention", 168*time.Hour, "Age after which finished tasks are removed")
	return command
}
