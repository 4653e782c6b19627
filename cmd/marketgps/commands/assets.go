package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/modules/universe"
)

// newAssetsCmd lists universe assets with their published scores.
func newAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List and filter universe assets with published scores",
	}
	scope := scopeFlag(cmd)
	query := cmd.Flags().String("query", "", "match against symbol or name")
	assetType := cmd.Flags().String("type", "", "asset type filter (EQUITY, ETF, FX, CRYPTO, ...)")
	onlyScored := cmd.Flags().Bool("scored", false, "only assets with a published score")
	minScore := cmd.Flags().Float64("min-score", 0, "minimum published score")
	sortBy := cmd.Flags().String("sort", "score", "sort field (score, confidence, symbol, name, tier, updated_at)")
	limit := cmd.Flags().Int("limit", 25, "page size")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		filters := universe.SearchFilters{
			Scope:      s,
			Query:      *query,
			AssetType:  domain.AssetType(*assetType),
			OnlyScored: *onlyScored,
			SortBy:     *sortBy,
			Limit:      *limit,
		}
		if cmd.Flags().Changed("min-score") {
			filters.MinScore = minScore
		}

		return withCore(func(ctx context.Context, c *core.Core) error {
			results, total, err := c.Universe.Search(filters)
			if err != nil {
				return err
			}
			cmd.Printf("%d of %d assets in %s\n", len(results), total, s)
			for _, r := range results {
				score := "    -"
				if r.ScoreTotal != nil {
					score = strconv.FormatFloat(*r.ScoreTotal, 'f', 1, 64)
				}
				cmd.Printf("%-14s tier=%d score=%s  %s\n", r.Asset.AssetID, r.Asset.Tier, score, r.Asset.Name)
			}
			return nil
		})
	}
	return cmd
}
