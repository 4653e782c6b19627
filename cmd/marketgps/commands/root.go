// Package commands implements the marketgps CLI.
package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketgps/core/internal/config"
	"github.com/marketgps/core/internal/core"
	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/pkg/logger"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "marketgps",
		Short:        "Multi-market asset scoring platform",
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newRotationCmd(),
		newGatingCmd(),
		newScoringCmd(),
		newUniverseCmd(),
		newAssetsCmd(),
		newWatchlistCmd(),
		newScoreCmd(),
		newWorkerCmd(),
		newStatusCmd(),
		newBackupCmd(),
	)
	return root
}

// withCore loads configuration, wires the application graph, runs fn and
// tears everything down. Ctrl-C cancels the context.
func withCore(fn func(ctx context.Context, c *core.Core) error) error {
	return withCoreConfig(nil, fn)
}

// withCoreConfig is withCore with a config override hook for flags that
// supersede environment values.
func withCoreConfig(override func(*config.Config), fn func(ctx context.Context, c *core.Core) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if override != nil {
		override(cfg)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	c, err := core.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

// scopeFlag attaches the --scope flag and returns its holder.
func scopeFlag(cmd *cobra.Command) *string {
	s := cmd.Flags().String("scope", "US_EU", "market scope (US_EU or AFRICA)")
	return s
}

func parseScope(raw string) (domain.MarketScope, error) {
	return domain.ParseScope(raw)
}
