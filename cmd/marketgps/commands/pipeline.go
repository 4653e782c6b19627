package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/config"
	"github.com/marketgps/core/internal/core"
	"github.com/marketgps/core/internal/domain"
)

// newRotationCmd runs one rotation batch for a scope.
func newRotationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Run one rotation batch (fetch, gate, score, publish)",
	}
	scope := scopeFlag(cmd)
	mode := cmd.Flags().String("mode", string(domain.ModeDailyFull),
		"rotation mode (daily_full, hourly_overlay or on_demand)")
	assets := cmd.Flags().String("assets", "",
		"comma-separated asset IDs for on_demand mode")
	batch := cmd.Flags().Int("batch", 0, "override the configured batch size")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		m, err := parseMode(*mode)
		if err != nil {
			return err
		}
		ids := splitAssets(*assets)
		if m == domain.ModeOnDemand && len(ids) == 0 {
			return fmt.Errorf("on_demand mode requires --assets")
		}

		return withCoreConfig(batchOverride(*batch), func(ctx context.Context, c *core.Core) error {
			result, err := c.Runner.RunRotation(ctx, s, m, ids)
			if err != nil {
				return err
			}
			printRunResult(cmd, result)
			return nil
		})
	}
	return cmd
}

// newGatingCmd re-evaluates gating for every active asset from stored bars.
func newGatingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gating",
		Short: "Re-evaluate gating for all active assets from stored bars",
	}
	scope := scopeFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		return withCore(func(ctx context.Context, c *core.Core) error {
			result, err := c.Runner.RunGating(ctx, s)
			if err != nil {
				return err
			}
			printRunResult(cmd, result)
			return nil
		})
	}
	return cmd
}

// newScoringCmd runs a full daily scoring pass.
func newScoringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scoring",
		Short: "Run a full daily scoring pass for a scope",
	}
	scope := scopeFlag(cmd)
	batch := cmd.Flags().Int("batch", 0, "override the configured batch size")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := parseScope(*scope)
		if err != nil {
			return err
		}
		return withCoreConfig(batchOverride(*batch), func(ctx context.Context, c *core.Core) error {
			result, err := c.Runner.RunScoring(ctx, s)
			if err != nil {
				return err
			}
			printRunResult(cmd, result)
			return nil
		})
	}
	return cmd
}

// batchOverride returns a config hook applying a positive --batch value.
func batchOverride(n int) func(*config.Config) {
	if n <= 0 {
		return nil
	}
	return func(cfg *config.Config) { cfg.RotationBatchSize = n }
}

func parseMode(raw string) (domain.JobMode, error) {
	switch domain.JobMode(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.ModeDailyFull:
		return domain.ModeDailyFull, nil
	case domain.ModeHourlyOverlay:
		return domain.ModeHourlyOverlay, nil
	case domain.ModeOnDemand:
		return domain.ModeOnDemand, nil
	default:
		return "", fmt.Errorf("unknown rotation mode %q", raw)
	}
}

func splitAssets(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func printRunResult(cmd *cobra.Command, r *domain.JobResult) {
	cmd.Printf("run %s: %s (processed=%d success=%d failed=%d, %.1fs)\n",
		r.RunID, r.Status, r.Processed, r.Success, r.Failed, r.DurationS)
	if r.Error != "" {
		cmd.Printf("  error: %s\n", r.Error)
	}
}
