package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/core"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/modules/adhoc"
)

// newScoreCmd scores tickers on demand, either inline or via the queue.
func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <ticker> [ticker...]",
		Short: "Score tickers on demand",
		Args:  cobra.MinimumNArgs(1),
	}
	scope := scopeFlag(cmd)
	user := cmd.Flags().String("user", "cli", "user ID charged for the request")
	enqueue := cmd.Flags().Bool("queue", false, "enqueue for the background worker instead of scoring inline")
	force := cmd.Flags().Bool("force", false, "bypass the 24h score cache, consuming quota")
	exchange := cmd.Flags().String("exchange", "", "exchange hint, beats an embedded .SUFFIX")
	assetType := cmd.Flags().String("type", "", "asset type hint for unknown tickers (EQUITY, ETF, CRYPTO, ...)")
	addToUniverse := cmd.Flags().Bool("add-to-universe", true, "register first-seen assets as inactive tier 3")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			if *enqueue {
				id, err := c.EnqueueScoreTickers(*user, s, args)
				if err != nil {
					return err
				}
				cmd.Printf("queued %d tickers as job %s\n", len(args), id)
				return nil
			}

			var firstErr error
			for _, ticker := range args {
				result, err := c.ScoreTicker(ctx, adhoc.Request{
					UserID:          *user,
					Ticker:          ticker,
					Exchange:        *exchange,
					AssetType:       domain.AssetType(strings.ToUpper(*assetType)),
					ForceRefresh:    *force,
					SkipUniverseAdd: !*addToUniverse,
				})
				if err != nil {
					cmd.Printf("%s: error: %v\n", ticker, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				printScoreResult(cmd, ticker, result)
			}
			return firstErr
		})
	}
	return cmd
}

func printScoreResult(cmd *cobra.Command, ticker string, r *adhoc.Result) {
	total := "n/a"
	if r.Score != nil && r.Score.ScoreTotal != nil {
		total = strconv.FormatFloat(*r.Score.ScoreTotal, 'f', 1, 64)
	}
	cmd.Printf("%s: score=%s source=%s", ticker, total, r.DataSource)
	if r.Cached {
		cmd.Printf(" (cached)")
	}
	if r.Gating != nil && !r.Gating.Eligible {
		cmd.Printf(" gating=%s", r.Gating.Reason)
	}
	if r.AddedToUniverse {
		cmd.Printf(" [added to universe]")
	}
	if r.QuotaRemaining >= 0 {
		cmd.Printf(" quota_remaining=%d", r.QuotaRemaining)
	}
	cmd.Println()
}
