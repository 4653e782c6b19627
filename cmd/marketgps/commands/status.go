package commands

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
	"github.com/marketgps/core/internal/domain"
)

// newStatusCmd prints a one-shot operational snapshot: database and bar
// store sizes, universe counts, queue depth, recent runs and host load.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show platform status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(func(ctx context.Context, c *core.Core) error {
				printDatabaseStatus(cmd, c)
				printUniverseStatus(cmd, c)
				printQueueStatus(cmd, c)
				printRecentRuns(cmd, c)
				printHostStatus(cmd)
				return nil
			})
		},
	}
}

func printDatabaseStatus(cmd *cobra.Command, c *core.Core) {
	cmd.Println("storage:")
	if stats, err := c.DB.GetStats(); err == nil {
		cmd.Printf("  sqlite: %.1f MB (wal %.1f MB, %d free pages)\n",
			mb(stats.SizeBytes), mb(stats.WALSizeBytes), stats.FreelistCount)
	} else {
		cmd.Printf("  sqlite: unavailable (%v)\n", err)
	}
	for _, scope := range domain.AllScopes() {
		store, ok := c.Stores[scope]
		if !ok {
			continue
		}
		if stats, err := store.Stats(); err == nil {
			cmd.Printf("  bars %s: %d files, %.1f MB\n", scope, stats.Files, mb(stats.TotalBytes))
		}
	}
}

func printUniverseStatus(cmd *cobra.Command, c *core.Core) {
	cmd.Println("universe:")
	for _, scope := range domain.AllScopes() {
		total, active, err := c.Universe.CountByScope(scope)
		if err != nil {
			cmd.Printf("  %s: unavailable (%v)\n", scope, err)
			continue
		}
		cmd.Printf("  %s: %d assets, %d active\n", scope, total, active)
	}
}

func printQueueStatus(cmd *cobra.Command, c *core.Core) {
	depth, err := c.Queue.Depth()
	if err != nil {
		cmd.Printf("queue: unavailable (%v)\n", err)
		return
	}
	cmd.Printf("queue: %d pending, %d processing, %d failed\n",
		depth[domain.QueuePending], depth[domain.QueueProcessing], depth[domain.QueueFailed])
}

func printRecentRuns(cmd *cobra.Command, c *core.Core) {
	runs, err := c.Runs.Recent(10)
	if err != nil {
		cmd.Printf("runs: unavailable (%v)\n", err)
		return
	}
	if len(runs) == 0 {
		cmd.Println("runs: none")
		return
	}
	cmd.Println("recent runs:")
	for _, run := range runs {
		cmd.Printf("  %s %s %s/%s %s (ok=%d failed=%d)\n",
			run.StartedAt.Format(time.RFC3339), run.MarketScope,
			run.JobType, run.Mode, run.Status, run.AssetsSuccess, run.AssetsFailed)
	}
}

func printHostStatus(cmd *cobra.Command) {
	cmd.Println("host:")
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		cmd.Printf("  cpu: %.1f%%\n", pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		cmd.Printf("  memory: %.1f%% of %.1f GB\n",
			vm.UsedPercent, float64(vm.Total)/1024/1024/1024)
	}
}

func mb(bytes int64) float64 {
	return float64(bytes) / 1024 / 1024
}
