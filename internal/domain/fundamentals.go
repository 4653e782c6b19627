package domain

// Fundamentals carries the point-in-time ratios the value pillar consumes.
// Absent values stay nil; the scoring engine redistributes weights instead of
// guessing.
type Fundamentals struct {
	AssetID        string   `json:"asset_id"`
	PERatio        *float64 `json:"pe_ratio,omitempty"`
	ProfitMargin   *float64 `json:"profit_margin,omitempty"`    // percent
	ReturnOnEquity *float64 `json:"return_on_equity,omitempty"` // percent
	MarketCap      *float64 `json:"market_cap,omitempty"`
	DividendYield  *float64 `json:"dividend_yield,omitempty"`
	Sector         string   `json:"sector,omitempty"`
	Industry       string   `json:"industry,omitempty"`
}

// HasValueInputs reports whether at least one value-pillar ratio is present.
func (f *Fundamentals) HasValueInputs() bool {
	if f == nil {
		return false
	}
	return f.PERatio != nil || f.ProfitMargin != nil || f.ReturnOnEquity != nil
}
