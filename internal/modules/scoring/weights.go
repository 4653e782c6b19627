package scoring

import (
	"github.com/marketgps/core/internal/domain"
)

// Base pillar weights per (scope, asset type). A pillar with no computed
// value has its weight redistributed proportionally across the active ones
// before the weighted sum.
var (
	weightsUSEUEquity = map[string]float64{
		domain.PillarMomentum: 0.40,
		domain.PillarSafety:   0.30,
		domain.PillarValue:    0.30,
	}
	weightsUSEUETF = map[string]float64{
		domain.PillarMomentum: 0.60,
		domain.PillarSafety:   0.40,
	}
	weightsAfricaEquity = map[string]float64{
		domain.PillarMomentum:  0.35,
		domain.PillarSafety:    0.25,
		domain.PillarValue:     0.20,
		domain.PillarFXRisk:    0.10,
		domain.PillarLiquidity: 0.10,
	}
	weightsAfricaETF = map[string]float64{
		domain.PillarMomentum:  0.40,
		domain.PillarSafety:    0.30,
		domain.PillarFXRisk:    0.15,
		domain.PillarLiquidity: 0.15,
	}
	weightsAfricaBond = map[string]float64{
		domain.PillarMomentum:  0.25,
		domain.PillarSafety:    0.45,
		domain.PillarValue:     0.10,
		domain.PillarFXRisk:    0.10,
		domain.PillarLiquidity: 0.10,
	}
	weightsAlternative = map[string]float64{
		domain.PillarMomentum: 0.60,
		domain.PillarSafety:   0.40,
	}
)

// BaseWeights returns the weight table for an asset. Only EQUITY and FUND
// carry a value pillar; ETFs skip it; the alternative types run on momentum
// and safety alone.
func BaseWeights(scope domain.MarketScope, assetType domain.AssetType) map[string]float64 {
	africa := scope == domain.ScopeAfrica
	switch assetType {
	case domain.AssetEquity, domain.AssetFund:
		if africa {
			return weightsAfricaEquity
		}
		return weightsUSEUEquity
	case domain.AssetETF, domain.AssetIndex:
		if africa {
			return weightsAfricaETF
		}
		return weightsUSEUETF
	case domain.AssetBond:
		if africa {
			return weightsAfricaBond
		}
		return weightsUSEUETF
	default:
		// FX, crypto, commodities, futures, options, unknown.
		return weightsAlternative
	}
}

// redistribute drops pillars without values and renormalizes the remaining
// weights to sum to 1.
func redistribute(base map[string]float64, pillars map[string]float64) map[string]float64 {
	total := 0.0
	for name, w := range base {
		if _, ok := pillars[name]; ok {
			total += w
		}
	}
	if total == 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(pillars))
	for name, w := range base {
		if _, ok := pillars[name]; ok {
			out[name] = w / total
		}
	}
	return out
}
