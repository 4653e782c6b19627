package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
)

// newWatchlistCmd manages per-user asset pins. A boosted pin keeps the
// asset in every scheduled refresh batch until the boost expires.
func newWatchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Manage watchlist pins and rotation boosts",
	}
	cmd.AddCommand(newWatchlistAddCmd(), newWatchlistRemoveCmd(), newWatchlistListCmd())
	return cmd
}

func newWatchlistAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <asset-id>",
		Short: "Pin an asset, boosting its rotation priority",
		Args:  cobra.ExactArgs(1),
	}
	user := cmd.Flags().String("user", "cli", "owning user ID")
	boostDays := cmd.Flags().Int("boost-days", 0, "boost window in days (0 boosts permanently)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			var boostUntil *time.Time
			if *boostDays > 0 {
				t := time.Now().UTC().AddDate(0, 0, *boostDays)
				boostUntil = &t
			}
			if err := c.Watchlist.Add(*user, args[0], boostUntil); err != nil {
				return err
			}
			cmd.Printf("pinned %s\n", args[0])
			return nil
		})
	}
	return cmd
}

func newWatchlistRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <asset-id>",
		Short: "Unpin an asset",
		Args:  cobra.ExactArgs(1),
	}
	user := cmd.Flags().String("user", "cli", "owning user ID")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			if err := c.Watchlist.Remove(*user, args[0]); err != nil {
				return err
			}
			cmd.Printf("unpinned %s\n", args[0])
			return nil
		})
	}
	return cmd
}

func newWatchlistListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's pinned assets",
	}
	user := cmd.Flags().String("user", "cli", "owning user ID")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withCore(func(ctx context.Context, c *core.Core) error {
			entries, err := c.Watchlist.ListForUser(*user)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("watchlist is empty")
				return nil
			}
			for _, e := range entries {
				boost := "permanent"
				if e.BoostUntil != nil {
					boost = "until " + e.BoostUntil.Format("2006-01-02")
				}
				cmd.Printf("%-14s boost %s\n", e.AssetID, boost)
			}
			return nil
		})
	}
	return cmd
}
