package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgps/core/internal/domain"
)

func adjustableScore(scope domain.MarketScope, total, confidence float64) *domain.Score {
	t := total
	return &domain.Score{
		AssetID:     "XYZ.US",
		MarketScope: scope,
		ScoreTotal:  &t,
		Confidence:  confidence,
		ComputedAt:  time.Now().UTC(),
		Breakdown:   &domain.Breakdown{EngineVersion: EngineVersion},
	}
}

func TestAdjust_HighQualityAssetBarelyMoves(t *testing.T) {
	adjuster := NewQualityAdjuster(zerolog.Nop())

	score := adjustableScore(domain.ScopeUSEU, 82, 90)
	gate := &domain.GatingStatus{
		Coverage:       0.95,
		Liquidity:      5_000_000,
		StaleRatio:     0.01,
		DataConfidence: 100,
	}
	adjuster.Adjust(score, gate)

	require.NotNil(t, score.ScoreTotal)
	// confidence 100 => multiplier 1; ADV above target => no penalty.
	assert.InDelta(t, 82.0, *score.ScoreTotal, 1.0)
	require.NotNil(t, score.Breakdown.Adjustments)
	assert.Empty(t, score.Breakdown.Adjustments.CapsApplied)
}

func TestAdjust_IlliquidStaleAssetCapped(t *testing.T) {
	adjuster := NewQualityAdjuster(zerolog.Nop())

	score := adjustableScore(domain.ScopeUSEU, 90, 80)
	gate := &domain.GatingStatus{
		Coverage:       0.70,
		Liquidity:      100_000,
		StaleRatio:     0.15,
		DataConfidence: 30,
	}
	adjuster.Adjust(score, gate)

	require.NotNil(t, score.ScoreTotal)
	assert.LessOrEqual(t, *score.ScoreTotal, 55.0)
	assert.Equal(t, 30.0, score.Confidence)

	debug := score.Breakdown.Adjustments
	require.NotNil(t, debug)
	assert.Equal(t, 90.0, debug.RawTotal)
	assert.GreaterOrEqual(t, len(debug.CapsApplied), 2)

	metrics := map[string]bool{}
	for _, c := range debug.CapsApplied {
		metrics[c.Metric] = true
	}
	assert.True(t, metrics["adv_usd"])
	assert.True(t, metrics["stale_ratio"])
}

func TestAdjust_LiquidityPenaltyScales(t *testing.T) {
	adjuster := NewQualityAdjuster(zerolog.Nop())

	// ADV exactly half the target: penalty = 0.5 * 35 = 17.5.
	score := adjustableScore(domain.ScopeUSEU, 80, 95)
	gate := &domain.GatingStatus{
		Coverage:       0.95,
		Liquidity:      1_000_000,
		StaleRatio:     0.01,
		DataConfidence: 100,
	}
	adjuster.Adjust(score, gate)

	require.NotNil(t, score.Breakdown.Adjustments)
	assert.InDelta(t, 17.5, score.Breakdown.Adjustments.LiquidityPenalty, 0.001)
	assert.InDelta(t, 62.5, *score.ScoreTotal, 0.001)
}

func TestAdjust_AfricaUnchanged(t *testing.T) {
	adjuster := NewQualityAdjuster(zerolog.Nop())

	score := adjustableScore(domain.ScopeAfrica, 75.5, 80)
	gate := &domain.GatingStatus{Liquidity: 1000, DataConfidence: 20}
	adjuster.Adjust(score, gate)

	assert.Equal(t, 75.5, *score.ScoreTotal)
	assert.Equal(t, 80.0, score.Confidence)
	assert.Nil(t, score.Breakdown.Adjustments)
}

func TestAdjust_NilInputsAreSafe(t *testing.T) {
	adjuster := NewQualityAdjuster(zerolog.Nop())

	adjuster.Adjust(nil, nil)
	adjuster.Adjust(&domain.Score{MarketScope: domain.ScopeUSEU}, &domain.GatingStatus{})

	score := adjustableScore(domain.ScopeUSEU, 50, 50)
	adjuster.Adjust(score, nil)
	assert.Equal(t, 50.0, *score.ScoreTotal)
}

func TestAdjust_NeverNegative(t *testing.T) {
	adjuster := NewQualityAdjuster(zerolog.Nop())

	score := adjustableScore(domain.ScopeUSEU, 10, 50)
	gate := &domain.GatingStatus{
		Coverage:       0.30,
		Liquidity:      0,
		StaleRatio:     0.50,
		DataConfidence: 10,
	}
	adjuster.Adjust(score, gate)

	require.NotNil(t, score.ScoreTotal)
	assert.GreaterOrEqual(t, *score.ScoreTotal, 0.0)
}
