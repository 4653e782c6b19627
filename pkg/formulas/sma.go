package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateSMA computes the simple moving average over the given period.
// Returns the latest value, or nil when the series is shorter than the period.
func CalculateSMA(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}

	sma := talib.Sma(closes, period)

	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}

// PriceVsSMA returns the percent deviation of the last close from its SMA,
// e.g. +12.5 means the price trades 12.5% above the average. Nil when the
// SMA is unavailable or zero.
func PriceVsSMA(closes []float64, period int) *float64 {
	sma := CalculateSMA(closes, period)
	if sma == nil || *sma == 0 || len(closes) == 0 {
		return nil
	}

	last := closes[len(closes)-1]
	pct := (last - *sma) / *sma * 100.0
	return &pct
}
