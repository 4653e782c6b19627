package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
)

// newWorkerCmd runs the queue worker without the scheduler, either as a
// long-running process or as a single drain pass.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background queue worker",
	}
	once := cmd.Flags().Bool("once", false, "drain pending jobs once and exit")
	maxJobs := cmd.Flags().Int("max-jobs", 0, "stop after this many jobs (implies --once)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if *once || *maxJobs > 0 {
				total := 0
				for {
					n, err := c.Worker.Tick(ctx)
					total += n
					if err != nil {
						return err
					}
					if n == 0 || (*maxJobs > 0 && total >= *maxJobs) {
						break
					}
				}
				cmd.Printf("processed %d jobs\n", total)
				return nil
			}
			if err := c.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return cmd
}
