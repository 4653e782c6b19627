package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateRSI computes the Relative Strength Index over the given period.
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = average gain / average loss over N periods
//
// Returns the latest RSI value (0-100), or nil when the series is too short.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)

	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

func isNaN(f float64) bool {
	return f != f
}
