// Package gating decides whether an asset's data is good enough to score.
// The verdict, its metrics and a 0-100 data confidence are persisted per
// scope; scoring never runs on an ineligible asset.
package gating

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/domain"
)

const (
	// Window sizes.
	defaultLookbackDays = 365
	liquidityWindowDays = 60
	staleWindowDays     = 60

	// Minimum usable history before any score is allowed.
	minBars = 50

	// A close-to-close move below this fraction counts as a stale day.
	staleMoveEpsilon = 1e-4

	// US_EU eligibility floors.
	usEUCoverageFloor = 0.60
	usEUADVFloor      = 250_000.0
	usEUStaleCeiling  = 0.20
	minLowPrice       = 1.0

	// US_EU confidence targets. Shortfalls against these accrue capped
	// linear penalties.
	usEUCoverageTarget = 0.85
	usEUADVTarget      = 2_000_000.0
	usEUStaleTarget    = 0.05
	usEUZeroVolTarget  = 0.02

	// AFRICA floors. Liquidity is a raw average daily value.
	africaCoverageFloor  = 0.50
	africaADVFloorETF    = 5_000_000.0
	africaADVFloorEquity = 2_000_000.0
	africaStaleCeiling   = 0.20
)

// fxRiskByCurrency scores currency instability in [0,1]. Currencies absent
// from the table get the conservative default.
var fxRiskByCurrency = map[string]float64{
	"USD": 0.05,
	"EUR": 0.10,
	"GBP": 0.10,
	"ZAR": 0.35,
	"BWP": 0.30,
	"NAD": 0.35,
	"MAD": 0.35,
	"XOF": 0.40,
	"KES": 0.45,
	"TZS": 0.50,
	"RWF": 0.50,
	"UGX": 0.55,
	"GHS": 0.65,
	"ZMW": 0.65,
	"EGP": 0.70,
	"MWK": 0.70,
	"NGN": 0.75,
}

const fxRiskDefault = 0.60

// exchangeLiquidityRisk is the base liquidity risk per AFRICA exchange,
// before the observed ADV adjustment.
var exchangeLiquidityRisk = map[string]float64{
	"JSE":  0.20,
	"EGX":  0.35,
	"CASA": 0.40,
	"NSE":  0.45,
	"NG":   0.50,
	"BRVM": 0.60,
	"GSE":  0.65,
	"USE":  0.70,
	"DSE":  0.70,
}

const exchangeLiquidityRiskDefault = 0.60

// Engine computes gating verdicts. It is stateless; all inputs arrive per
// call so runs and tests share one instance.
type Engine struct {
	lookbackDays int
	log          zerolog.Logger
}

// NewEngine creates a gating engine with the default lookback window.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		lookbackDays: defaultLookbackDays,
		log:          log.With().Str("component", "gating_engine").Logger(),
	}
}

// Evaluate computes the full gating status for one asset from its cached
// bars. An empty series is a NO_DATA verdict, never an error.
func (e *Engine) Evaluate(asset *domain.Asset, series domain.BarSeries, now time.Time) domain.GatingStatus {
	status := domain.GatingStatus{
		AssetID:     asset.AssetID,
		MarketScope: asset.MarketScope,
		UpdatedAt:   now.UTC(),
	}

	if len(series) == 0 {
		status.Eligible = false
		status.Reason = domain.ReasonNoData
		status.DataConfidence = 5
		return status
	}

	status.BarsTotal = len(series)
	status.FirstBarDate = series[0].Date
	status.LastBarDate = series.LastDate()

	lookback := series.Since(now.AddDate(0, 0, -e.lookbackDays))
	status.Coverage = coverage(lookback, e.lookbackDays)

	window := series.Tail(liquidityWindowDays)
	status.Liquidity = averageDollarVolume(window)
	status.StaleRatio = staleRatio(series.Tail(staleWindowDays))
	status.ZeroVolumeRatio = zeroVolumeRatio(window)
	status.PriceMin = minLow(window)

	if asset.MarketScope == domain.ScopeAfrica {
		fx := fxRisk(asset.Currency)
		lr := liquidityRisk(asset.ExchangeCode, status.Liquidity)
		status.FXRisk = &fx
		status.LiquidityRisk = &lr
	}

	status.Eligible, status.Reason = e.eligibility(asset, &status)
	status.DataConfidence = e.confidence(asset, &status)
	return status
}

// eligibility applies the scope-specific floors in order; the first failed
// rule names the reason.
func (e *Engine) eligibility(asset *domain.Asset, s *domain.GatingStatus) (bool, string) {
	if s.BarsTotal < minBars {
		return false, fmt.Sprintf("%s: %d bars, minimum %d", domain.ReasonMinBars, s.BarsTotal, minBars)
	}

	switch asset.MarketScope {
	case domain.ScopeAfrica:
		if s.Coverage < africaCoverageFloor {
			return false, fmt.Sprintf("%s: coverage %.2f below %.2f", domain.ReasonLowCoverage, s.Coverage, africaCoverageFloor)
		}
		floor := africaADVFloorEquity
		if asset.AssetType == domain.AssetETF {
			floor = africaADVFloorETF
		}
		if s.Liquidity < floor {
			return false, fmt.Sprintf("%s: ADV %.0f below %.0f", domain.ReasonLowLiquidity, s.Liquidity, floor)
		}
		if s.StaleRatio > africaStaleCeiling {
			return false, fmt.Sprintf("%s: stale ratio %.2f above %.2f", domain.ReasonStale, s.StaleRatio, africaStaleCeiling)
		}
	default:
		if s.Coverage < usEUCoverageFloor {
			return false, fmt.Sprintf("%s: coverage %.2f below %.2f", domain.ReasonLowCoverage, s.Coverage, usEUCoverageFloor)
		}
		if s.Liquidity < usEUADVFloor {
			return false, fmt.Sprintf("%s: ADV_USD %.0f below %.0f", domain.ReasonLowLiquidity, s.Liquidity, usEUADVFloor)
		}
		if s.StaleRatio > usEUStaleCeiling {
			return false, fmt.Sprintf("%s: stale ratio %.2f above %.2f", domain.ReasonStale, s.StaleRatio, usEUStaleCeiling)
		}
	}

	if s.PriceMin < minLowPrice {
		return false, fmt.Sprintf("%s: low price %.2f below %.2f", domain.ReasonPennyStock, s.PriceMin, minLowPrice)
	}
	return true, ""
}

// confidence maps the quality metrics onto [5,100].
func (e *Engine) confidence(asset *domain.Asset, s *domain.GatingStatus) float64 {
	if asset.MarketScope == domain.ScopeAfrica {
		return africaConfidence(s)
	}
	return usEUConfidence(s)
}

// usEUConfidence starts at 100 and subtracts capped linear penalties for
// each metric that misses its target.
func usEUConfidence(s *domain.GatingStatus) float64 {
	conf := 100.0
	conf -= clamp01((usEUCoverageTarget-s.Coverage)/usEUCoverageTarget) * 40
	conf -= clamp01((usEUADVTarget-s.Liquidity)/usEUADVTarget) * 30
	conf -= clamp01((s.StaleRatio-usEUStaleTarget)/(1-usEUStaleTarget)) * 20
	conf -= clamp01((s.ZeroVolumeRatio-usEUZeroVolTarget)/(1-usEUZeroVolTarget)) * 10
	return clampRange(conf, 5, 100)
}

// africaConfidence is a weighted composite of coverage, FX stability,
// liquidity tier and history length.
func africaConfidence(s *domain.GatingStatus) float64 {
	fx := fxRiskDefault
	if s.FXRisk != nil {
		fx = *s.FXRisk
	}
	lr := exchangeLiquidityRiskDefault
	if s.LiquidityRisk != nil {
		lr = *s.LiquidityRisk
	}
	history := math.Min(s.HistoryYears()/5.0, 1.0)

	conf := 100 * (0.35*clamp01(s.Coverage) +
		0.20*(1-clamp01(fx)) +
		0.25*(1-clamp01(lr)) +
		0.20*history)
	return clampRange(conf, 5, 100)
}

// coverage is valid bars over expected trading days in the lookback window.
func coverage(lookback domain.BarSeries, lookbackDays int) float64 {
	expected := float64(lookbackDays) * 252.0 / 365.0
	if expected <= 0 {
		return 0
	}
	valid := 0
	for _, b := range lookback {
		if b.Close > 0 {
			valid++
		}
	}
	return math.Min(float64(valid)/expected, 1.0)
}

func averageDollarVolume(window domain.BarSeries) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range window {
		sum += b.Close * float64(b.Volume)
	}
	return sum / float64(len(window))
}

// staleRatio is the fraction of days whose close barely moved from the
// previous day.
func staleRatio(window domain.BarSeries) float64 {
	if len(window) < 2 {
		return 0
	}
	stale := 0
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev == 0 {
			stale++
			continue
		}
		if math.Abs(window[i].Close-prev)/prev < staleMoveEpsilon {
			stale++
		}
	}
	return float64(stale) / float64(len(window)-1)
}

func zeroVolumeRatio(window domain.BarSeries) float64 {
	if len(window) == 0 {
		return 0
	}
	zero := 0
	for _, b := range window {
		if b.Volume == 0 {
			zero++
		}
	}
	return float64(zero) / float64(len(window))
}

func minLow(window domain.BarSeries) float64 {
	if len(window) == 0 {
		return 0
	}
	low := math.MaxFloat64
	for _, b := range window {
		v := b.Low
		if v == 0 {
			v = b.Close
		}
		if v < low {
			low = v
		}
	}
	return low
}

func fxRisk(currency string) float64 {
	if risk, ok := fxRiskByCurrency[strings.ToUpper(currency)]; ok {
		return risk
	}
	return fxRiskDefault
}

// liquidityRisk combines the exchange's base risk with how far the observed
// ADV falls short of a deep market.
func liquidityRisk(exchange string, adv float64) float64 {
	base := exchangeLiquidityRiskDefault
	if r, ok := exchangeLiquidityRisk[strings.ToUpper(exchange)]; ok {
		base = r
	}
	advShortfall := clamp01(1 - adv/africaADVFloorETF)
	return clamp01(0.5*base + 0.5*advShortfall)
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
