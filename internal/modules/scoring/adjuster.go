package scoring

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

// Quality adjuster constants. Calibrated once against the US_EU backtest
// set; changing any of them is a scoring-version bump.
const (
	adjusterAlpha     = 1.6
	adjusterTargetADV = 2_000_000.0
	adjusterMaxPenal  = 35.0

	capADVFloor     = 250_000.0
	capADVScore     = 60.0
	capCoverage     = 0.85
	capCoverScore   = 65.0
	capStaleRatio   = 0.10
	capStaleScore   = 55.0
	capZeroVolRatio = 0.05
	capZeroVolScore = 55.0
)

// QualityAdjuster downgrades US_EU scores for illiquid or stale assets after
// the engine produces the raw total. AFRICA scores pass through unchanged;
// their risk pillars already price these effects.
type QualityAdjuster struct {
	log zerolog.Logger
}

// NewQualityAdjuster creates the post-scoring adjuster.
func NewQualityAdjuster(log zerolog.Logger) *QualityAdjuster {
	return &QualityAdjuster{log: log.With().Str("component", "quality_adjuster").Logger()}
}

// Adjust applies the confidence multiplier, the liquidity penalty and the
// hard caps in place, recording the full debug block in the breakdown.
func (a *QualityAdjuster) Adjust(score *domain.Score, gate *domain.GatingStatus) {
	if score == nil || score.ScoreTotal == nil || gate == nil {
		return
	}
	if score.MarketScope != domain.ScopeUSEU {
		return
	}

	raw := *score.ScoreTotal
	debug := domain.AdjustmentDebug{RawTotal: raw}

	// Step 1: confidence multiplier.
	debug.ConfidenceMult = math.Pow(clamp(gate.DataConfidence, 0, 100)/100, adjusterAlpha)
	adjusted := raw * debug.ConfidenceMult
	debug.AfterMultiplier = adjusted

	// Step 2: liquidity penalty against the target ADV.
	debug.LiquidityPenalty = clamp((adjusterTargetADV-gate.Liquidity)/adjusterTargetADV, 0, 1) * adjusterMaxPenal
	adjusted -= debug.LiquidityPenalty

	// Step 3: hard caps, the lowest applicable wins.
	if gate.Liquidity < capADVFloor {
		debug.CapsApplied = append(debug.CapsApplied, domain.CapEntry{
			Cap:    capADVScore,
			Metric: "adv_usd",
			Reason: fmt.Sprintf("ADV_USD %.0f below %.0f", gate.Liquidity, capADVFloor),
		})
	}
	if gate.Coverage < capCoverage {
		debug.CapsApplied = append(debug.CapsApplied, domain.CapEntry{
			Cap:    capCoverScore,
			Metric: "coverage",
			Reason: fmt.Sprintf("coverage %.2f below %.2f", gate.Coverage, capCoverage),
		})
	}
	if gate.StaleRatio > capStaleRatio {
		debug.CapsApplied = append(debug.CapsApplied, domain.CapEntry{
			Cap:    capStaleScore,
			Metric: "stale_ratio",
			Reason: fmt.Sprintf("stale ratio %.2f above %.2f", gate.StaleRatio, capStaleRatio),
		})
	}
	if gate.ZeroVolumeRatio > capZeroVolRatio {
		debug.CapsApplied = append(debug.CapsApplied, domain.CapEntry{
			Cap:    capZeroVolScore,
			Metric: "zero_volume_ratio",
			Reason: fmt.Sprintf("zero-volume ratio %.2f above %.2f", gate.ZeroVolumeRatio, capZeroVolRatio),
		})
	}
	for _, entry := range debug.CapsApplied {
		if adjusted > entry.Cap {
			adjusted = entry.Cap
		}
	}

	adjusted = clamp(adjusted, 0, 100)
	debug.Final = adjusted

	*score.ScoreTotal = adjusted
	score.Confidence = math.Min(score.Confidence, gate.DataConfidence)
	if score.Breakdown != nil {
		score.Breakdown.Adjustments = &debug
	}

	a.log.Debug().
		Str("asset_id", score.AssetID).
		Float64("raw", raw).
		Float64("final", adjusted).
		Int("caps", len(debug.CapsApplied)).
		Msg("quality adjustment applied")
}
