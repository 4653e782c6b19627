// Package scoring turns bars, fundamentals and gating metrics into the
// composite 0-100 score with its pillar components and audit breakdown.
package scoring

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
	"github.com/marketgps/core/pkg/formulas"
)

// EngineVersion tags every breakdown so historical blobs stay attributable
// to the formula set that produced them.
const EngineVersion = "marketgps-score/1.2"

const (
	// MinBars is the usable-history floor below which no total is produced.
	MinBars = 50

	rsiPeriod     = 14
	smaPeriod     = 200
	zscoreWindow  = 20
	drawdownDays  = 252
	volWindowDays = 252

	// Normalization ranges.
	momentumSMABand  = 20.0 // price_vs_sma200 scored around +/-20%
	volLo, volHi     = 5.0, 50.0
	ddLo, ddHi       = 0.0, 40.0
	peLo, peHi       = 5.0, 50.0
	marginLo, margHi = 0.0, 30.0
	roeLo, roeHi     = 0.0, 25.0
)

// Engine computes scores. Stateless; safe for concurrent use.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "scoring_engine").Logger()}
}

// Normalize clamps value to [lo, hi] and scales to 0..100, inverting when
// lower is better. This is the single normalization primitive every pillar
// uses.
func Normalize(value, lo, hi float64, invert bool) float64 {
	if hi <= lo {
		return 0
	}
	v := clamp(value, lo, hi)
	scaled := (v - lo) / (hi - lo) * 100
	if invert {
		return 100 - scaled
	}
	return scaled
}

// Score computes the full score for one asset. Fundamentals and gating are
// optional; missing pillars redistribute their weight. A series shorter than
// MinBars yields a score with a nil total and state NA.
func (e *Engine) Score(asset *domain.Asset, series domain.BarSeries, fundamentals *domain.Fundamentals, gate *domain.GatingStatus, now time.Time) *domain.Score {
	score := &domain.Score{
		AssetID:     asset.AssetID,
		MarketScope: asset.MarketScope,
		StateLabel:  domain.StateNA,
		ComputedAt:  now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	if len(series) < MinBars {
		score.Confidence = 0
		return score
	}

	closes := series.Closes()
	features := e.computeFeatures(series, closes)
	if fundamentals.HasValueInputs() {
		score.FundamentalsAvailable = true
		if fundamentals.PERatio != nil {
			features[domain.FeaturePERatio] = *fundamentals.PERatio
		}
		if fundamentals.ProfitMargin != nil {
			features[domain.FeatureProfitMargin] = *fundamentals.ProfitMargin
		}
		if fundamentals.ReturnOnEquity != nil {
			features[domain.FeatureROE] = *fundamentals.ReturnOnEquity
		}
	}

	pillars := e.computePillars(asset, features, fundamentals, gate)

	base := BaseWeights(asset.MarketScope, asset.AssetType)
	weights := redistribute(base, pillars)

	total := 0.0
	for name, w := range weights {
		total += w * pillars[name]
	}
	total = clamp(total, 0, 100)
	if len(weights) > 0 {
		score.ScoreTotal = &total
	}

	copyPillar(pillars, domain.PillarValue, &score.ScoreValue)
	copyPillar(pillars, domain.PillarMomentum, &score.ScoreMomentum)
	copyPillar(pillars, domain.PillarSafety, &score.ScoreSafety)
	copyPillar(pillars, domain.PillarFXRisk, &score.ScoreFXRisk)
	copyPillar(pillars, domain.PillarLiquidity, &score.ScoreLiquidityRisk)

	copyFeature(features, domain.FeatureRSI, &score.RSI)
	copyFeature(features, domain.FeatureZScore, &score.ZScore)
	copyFeature(features, domain.FeatureVolAnnual, &score.VolAnnual)
	copyFeature(features, domain.FeatureMaxDrawdown, &score.MaxDrawdown)
	copyFeature(features, domain.FeatureSMA200, &score.SMA200)
	copyFeature(features, domain.FeatureLastPrice, &score.LastPrice)

	score.StateLabel = stateLabel(score.ZScore, score.RSI)

	confParts := e.confidenceParts(asset, series, gate, len(pillars), len(base), now)
	score.Confidence = combineConfidence(asset.MarketScope, confParts)

	score.Breakdown = &domain.Breakdown{
		EngineVersion:   EngineVersion,
		ComputedAt:      score.ComputedAt,
		AssetType:       asset.AssetType,
		MarketScope:     asset.MarketScope,
		WeightsUsed:     weights,
		Features:        features,
		Pillars:         pillars,
		ConfidenceParts: confParts,
	}
	return score
}

// computeFeatures derives the raw feature map. Short-history calculators
// return nil and the feature is simply absent.
func (e *Engine) computeFeatures(series domain.BarSeries, closes []float64) map[string]float64 {
	features := map[string]float64{
		domain.FeatureLastPrice: closes[len(closes)-1],
	}

	if rsi := formulas.CalculateRSI(closes, rsiPeriod); rsi != nil {
		features[domain.FeatureRSI] = *rsi
	}
	if sma := formulas.CalculateSMA(closes, smaPeriod); sma != nil {
		features[domain.FeatureSMA200] = *sma
	}
	if pvs := formulas.PriceVsSMA(closes, smaPeriod); pvs != nil {
		features[domain.FeaturePriceVsSMA] = *pvs
	}
	if z := formulas.CalculateZScore(closes, zscoreWindow); z != nil {
		features[domain.FeatureZScore] = *z
	}

	volWindow := closes
	if len(volWindow) > volWindowDays {
		volWindow = volWindow[len(volWindow)-volWindowDays:]
	}
	if vol := formulas.CalculateVolatility(volWindow); vol != nil {
		features[domain.FeatureVolAnnual] = *vol * 100
	}

	ddWindow := closes
	if len(ddWindow) > drawdownDays {
		ddWindow = ddWindow[len(ddWindow)-drawdownDays:]
	}
	if dd := formulas.CalculateMaxDrawdown(ddWindow); dd != nil {
		features[domain.FeatureMaxDrawdown] = *dd * 100
	}

	return features
}

// computePillars scores each pillar from whatever features are available.
func (e *Engine) computePillars(asset *domain.Asset, features map[string]float64, fundamentals *domain.Fundamentals, gate *domain.GatingStatus) map[string]float64 {
	pillars := map[string]float64{}

	// Momentum: RSI shape + trend vs SMA200.
	var momentum []float64
	if rsi, ok := features[domain.FeatureRSI]; ok {
		momentum = append(momentum, rsiScore(rsi))
	}
	if pvs, ok := features[domain.FeaturePriceVsSMA]; ok {
		momentum = append(momentum, Normalize(pvs, -momentumSMABand, momentumSMABand, false))
	}
	if v, ok := average(momentum); ok {
		pillars[domain.PillarMomentum] = v
	}

	// Safety: low volatility and shallow drawdowns are better.
	var safety []float64
	if vol, ok := features[domain.FeatureVolAnnual]; ok {
		safety = append(safety, Normalize(vol, volLo, volHi, true))
	}
	if dd, ok := features[domain.FeatureMaxDrawdown]; ok {
		safety = append(safety, Normalize(dd, ddLo, ddHi, true))
	}
	if v, ok := average(safety); ok {
		pillars[domain.PillarSafety] = v
	}

	// Value: equities and funds with fundamentals only.
	if valueEligible(asset.AssetType) && fundamentals.HasValueInputs() {
		var value []float64
		if fundamentals.PERatio != nil && *fundamentals.PERatio > 0 {
			value = append(value, Normalize(*fundamentals.PERatio, peLo, peHi, true))
		}
		if fundamentals.ProfitMargin != nil {
			value = append(value, Normalize(*fundamentals.ProfitMargin, marginLo, margHi, false))
		}
		if fundamentals.ReturnOnEquity != nil {
			value = append(value, Normalize(*fundamentals.ReturnOnEquity, roeLo, roeHi, false))
		}
		if v, ok := average(value); ok {
			pillars[domain.PillarValue] = v
		}
	}

	// AFRICA risk pillars come straight from gating.
	if asset.MarketScope == domain.ScopeAfrica && gate != nil {
		if gate.FXRisk != nil {
			pillars[domain.PillarFXRisk] = clamp((1-*gate.FXRisk)*100, 0, 100)
		}
		if gate.LiquidityRisk != nil {
			pillars[domain.PillarLiquidity] = clamp((1-*gate.LiquidityRisk)*100, 0, 100)
		}
	}

	return pillars
}

// rsiScore shapes RSI with a peak at 55 and steeper penalties below 40 and
// above 70.
func rsiScore(rsi float64) float64 {
	switch {
	case rsi >= 40 && rsi <= 70:
		return clamp(100-math.Abs(rsi-55)*2, 0, 100)
	case rsi < 40:
		return clamp(70-(40-rsi)*2.33, 0, 100)
	default:
		return clamp(70-(rsi-70)*2.33, 0, 100)
	}
}

// stateLabel classifies the trading regime from z-score and RSI.
func stateLabel(z, rsi *float64) domain.StateLabel {
	if z == nil && rsi == nil {
		return domain.StateNA
	}
	if z != nil {
		if *z > 2 {
			return domain.StateExtensionHaute
		}
		if *z < -2 {
			return domain.StateExtensionBasse
		}
	}
	if rsi != nil {
		if *rsi > 80 {
			return domain.StateStressHaussier
		}
		if *rsi < 20 {
			return domain.StateStressBaissier
		}
	}
	return domain.StateEquilibre
}

// confidenceParts collects the per-component confidence contributions kept
// in the breakdown.
func (e *Engine) confidenceParts(asset *domain.Asset, series domain.BarSeries, gate *domain.GatingStatus, activePillars, expectedPillars int, now time.Time) map[string]float64 {
	parts := map[string]float64{}

	coverage := 50.0
	if gate != nil {
		coverage = clamp(gate.Coverage*100, 0, 100)
	}
	parts["coverage"] = coverage

	ageDays := now.UTC().Sub(series.LastDate()).Hours() / 24
	freshness := 100.0
	if ageDays > 3 {
		freshness = clamp(100-(ageDays-3)*(100.0/27.0), 0, 100)
	}
	parts["freshness"] = freshness

	availability := 0.0
	if expectedPillars > 0 {
		availability = float64(activePillars) / float64(expectedPillars) * 100
	}
	parts["pillar_availability"] = availability

	if asset.MarketScope == domain.ScopeAfrica && gate != nil {
		fx, lr := 0.6, 0.6
		if gate.FXRisk != nil {
			fx = *gate.FXRisk
		}
		if gate.LiquidityRisk != nil {
			lr = *gate.LiquidityRisk
		}
		parts["stability"] = clamp((1-(fx+lr)/2)*100, 0, 100)
	}

	return parts
}

// combineConfidence folds the parts into the integer 0..100 confidence.
func combineConfidence(scope domain.MarketScope, parts map[string]float64) float64 {
	var conf float64
	if scope == domain.ScopeAfrica {
		conf = 0.30*parts["coverage"] +
			0.25*parts["freshness"] +
			0.25*parts["pillar_availability"] +
			0.20*parts["stability"]
	} else {
		conf = 0.40*parts["coverage"] +
			0.30*parts["freshness"] +
			0.30*parts["pillar_availability"]
	}
	return math.Round(clamp(conf, 0, 100))
}

func valueEligible(t domain.AssetType) bool {
	return t == domain.AssetEquity || t == domain.AssetFund || t == domain.AssetBond
}

func average(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

func copyPillar(pillars map[string]float64, name string, dst **float64) {
	if v, ok := pillars[name]; ok {
		val := v
		*dst = &val
	}
}

func copyFeature(features map[string]float64, name string, dst **float64) {
	if v, ok := features[name]; ok {
		val := v
		*dst = &val
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
