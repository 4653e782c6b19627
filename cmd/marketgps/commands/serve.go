package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
)

// newServeCmd runs the daemon: the cron scheduler drives the recurring
// pipelines and the queue worker drains background jobs until shutdown.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and queue worker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				if err := c.RegisterSchedules(); err != nil {
					return err
				}
				c.Scheduler.Start()
				defer c.Scheduler.Stop()

				c.Log.Info().Msg("MarketGPS daemon started")
				// Blocks until the context is cancelled by SIGINT/SIGTERM.
				if err := c.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
}
