package domain

import "time"

// Gating reason codes. The reason string on an ineligible status starts with
// one of these.
const (
	ReasonNoData       = "NO_DATA"
	ReasonMinBars      = "MIN_BARS"
	ReasonLowCoverage  = "LOW_COVERAGE"
	ReasonLowLiquidity = "LOW_LIQUIDITY"
	ReasonStale        = "STALE_SERIES"
	ReasonPennyStock   = "PENNY_STOCK"
)

// GatingStatus is the data-quality verdict for one asset within one scope.
// Liquidity is ADV in USD for US_EU and a raw average daily value for AFRICA.
type GatingStatus struct {
	AssetID         string      `json:"asset_id"`
	MarketScope     MarketScope `json:"market_scope"`
	Coverage        float64     `json:"coverage"`
	Liquidity       float64     `json:"liquidity"`
	PriceMin        float64     `json:"price_min"`
	StaleRatio      float64     `json:"stale_ratio"`
	ZeroVolumeRatio float64     `json:"zero_volume_ratio"`
	Eligible        bool        `json:"eligible"`
	Reason          string      `json:"reason,omitempty"`
	DataConfidence  float64     `json:"data_confidence"`
	FXRisk          *float64    `json:"fx_risk,omitempty"`        // AFRICA, 0..1
	LiquidityRisk   *float64    `json:"liquidity_risk,omitempty"` // AFRICA, 0..1
	BarsTotal       int         `json:"bars_total"`
	FirstBarDate    time.Time   `json:"first_bar_date"`
	LastBarDate     time.Time   `json:"last_bar_date"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HistoryYears is the observed span of the bar series in calendar years.
func (g GatingStatus) HistoryYears() float64 {
	if g.FirstBarDate.IsZero() || g.LastBarDate.IsZero() || !g.LastBarDate.After(g.FirstBarDate) {
		return 0
	}
	return g.LastBarDate.Sub(g.FirstBarDate).Hours() / 24 / 365.25
}
