package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
)

// newUniverseCmd groups universe management: provider-driven rebuilds and
// CSV imports.
func newUniverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Manage the asset universe",
	}
	cmd.AddCommand(newUniverseRebuildCmd(), newUniverseImportCmd())
	return cmd
}

func newUniverseRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Relist and retier one scope's universe from the provider",
	}
	scope := scopeFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			stats, err := c.RebuildUniverse(ctx, s)
			if err != nil {
				return err
			}
			cmd.Printf("universe %s rebuilt: %d listed across %d exchanges, %d upserted, %d active\n",
				stats.Scope, stats.Listed, stats.Exchanges, stats.Upserted, stats.Activated)
			return nil
		})
	}
	return cmd
}

func newUniverseImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <csv-file>",
		Short: "Seed or extend one scope's universe from a CSV file",
		Args:  cobra.ExactArgs(1),
	}
	scope := scopeFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			imported, err := c.Universe.ImportCSV(args[0], s)
			if err != nil {
				return err
			}
			cmd.Printf("imported %d assets into %s\n", imported, s)
			return nil
		})
	}
	return cmd
}
