package universe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/internal/providers"
)

// Tier thresholds on estimated ADV (close x volume from the bulk row).
var (
	usEUTierThresholds   = [3]float64{5_000_000, 1_000_000, 100_000}
	africaTierThresholds = [3]float64{500_000, 100_000, 10_000}
)

// BuilderConfig bounds how many assets each scope activates.
type BuilderConfig struct {
	Exchanges  []string
	Tier1Limit int
	Tier2Limit int
}

// Builder populates and tiers the universe from exchange listings plus one
// bulk-EOD call per exchange, so a rebuild costs ~2 provider calls per
// exchange instead of one per asset.
type Builder struct {
	provider providers.Provider
	repo     *Repository
	log      zerolog.Logger
}

// BuildStats summarizes one rebuild.
type BuildStats struct {
	Scope     domain.MarketScope `json:"scope"`
	Listed    int                `json:"listed"`
	Upserted  int                `json:"upserted"`
	Activated int                `json:"activated"`
	Exchanges int                `json:"exchanges"`
}

// NewBuilder creates a universe builder on top of one provider and the
// asset repository.
func NewBuilder(provider providers.Provider, repo *Repository, log zerolog.Logger) *Builder {
	return &Builder{
		provider: provider,
		repo:     repo,
		log:      log.With().Str("component", "universe_builder").Logger(),
	}
}

// Rebuild lists every exchange of the scope, estimates per-asset liquidity
// from the bulk EOD rows, tiers and activates the most liquid assets, and
// bulk-upserts the result. Exchanges that fail are skipped, not fatal.
func (b *Builder) Rebuild(ctx context.Context, scope domain.MarketScope, cfg BuilderConfig) (*BuildStats, error) {
	if len(cfg.Exchanges) == 0 {
		return nil, fmt.Errorf("no exchanges configured for scope %s", scope)
	}

	stats := &BuildStats{Scope: scope}
	var (
		assets []domain.Asset
		advs   []float64
	)

	for _, exchange := range cfg.Exchanges {
		listed, err := b.provider.FetchExchangeSymbols(ctx, exchange)
		if err != nil {
			b.log.Warn().Err(err).Str("exchange", exchange).Msg("symbol listing failed, skipping exchange")
			continue
		}
		bulk, err := b.provider.FetchBulkEOD(ctx, exchange)
		if err != nil {
			b.log.Warn().Err(err).Str("exchange", exchange).Msg("bulk EOD failed, skipping exchange")
			continue
		}

		stats.Exchanges++
		stats.Listed += len(listed)

		for _, sym := range listed {
			assetID := strings.ToUpper(sym.Code) + "." + strings.ToUpper(exchange)
			if !domain.ValidAssetID(assetID) {
				continue
			}

			// Bulk rows are keyed "CODE.EXCHANGE", same shape as the asset ID.
			adv := 0.0
			if row, ok := bulk[assetID]; ok {
				adv = row.ADV()
			}

			advs = append(advs, adv)
			assets = append(assets, domain.Asset{
				AssetID:       assetID,
				Symbol:        strings.ToUpper(sym.Code),
				Name:          sym.Name,
				AssetType:     domain.ParseAssetType(sym.Type),
				MarketScope:   scope,
				MarketCode:    strings.ToUpper(exchange),
				ExchangeCode:  strings.ToUpper(exchange),
				Currency:      strings.ToUpper(sym.Currency),
				Country:       sym.Country,
				Tier:          tierForADV(scope, adv),
				PriorityLevel: priorityForADV(adv),
			})
		}
	}

	if len(assets) == 0 {
		return nil, fmt.Errorf("universe rebuild for %s produced no assets", scope)
	}

	activateByTier(assets, advs, cfg.Tier1Limit, cfg.Tier2Limit)
	for _, a := range assets {
		if a.Active {
			stats.Activated++
		}
	}

	count, err := b.repo.ReplaceScope(scope, assets)
	if err != nil {
		return nil, fmt.Errorf("failed to store universe for %s: %w", scope, err)
	}
	stats.Upserted = count

	b.log.Info().
		Str("scope", string(scope)).
		Int("listed", stats.Listed).
		Int("upserted", stats.Upserted).
		Int("activated", stats.Activated).
		Msg("universe rebuilt")
	return stats, nil
}

// tierForADV maps estimated ADV onto the 1..4 liquidity tiers.
func tierForADV(scope domain.MarketScope, adv float64) int {
	thresholds := usEUTierThresholds
	if scope == domain.ScopeAfrica {
		thresholds = africaTierThresholds
	}
	switch {
	case adv >= thresholds[0]:
		return 1
	case adv >= thresholds[1]:
		return 2
	case adv >= thresholds[2]:
		return 3
	default:
		return 4
	}
}

func priorityForADV(adv float64) int {
	switch {
	case adv >= 50_000_000:
		return 3
	case adv >= 10_000_000:
		return 2
	case adv >= 1_000_000:
		return 1
	default:
		return 0
	}
}

// activateByTier sorts assets within tiers 1 and 2 by descending raw ADV
// and flips the active flag on at most tier1Limit + tier2Limit of them.
// Tiers 3 and 4 stay inactive: on-demand only.
func activateByTier(assets []domain.Asset, advs []float64, tier1Limit, tier2Limit int) {
	idx := make([]int, 0, len(assets))
	for i := range assets {
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := &assets[idx[a]], &assets[idx[b]]
		if ia.Tier != ib.Tier {
			return ia.Tier < ib.Tier
		}
		return advs[idx[a]] > advs[idx[b]]
	})

	activated1, activated2 := 0, 0
	for _, i := range idx {
		switch assets[i].Tier {
		case 1:
			if activated1 < tier1Limit {
				assets[i].Active = true
				activated1++
			}
		case 2:
			if activated2 < tier2Limit {
				assets[i].Active = true
				activated2++
			}
		}
	}
}
