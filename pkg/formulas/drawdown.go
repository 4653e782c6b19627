package formulas

// CalculateMaxDrawdown calculates the maximum peak-to-trough decline of a
// price series.
//
//	Drawdown     = (Peak - Price) / Peak
//	Max Drawdown = maximum over the series
//
// Returns a positive fraction (0.25 = 25% loss from peak), or nil for series
// shorter than two points.
func CalculateMaxDrawdown(prices []float64) *float64 {
	if len(prices) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := prices[0]

	for _, price := range prices {
		if price > peak {
			peak = price
		}

		if peak > 0 {
			drawdown := (peak - price) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// CalculateMaxDrawdownWindow restricts the drawdown scan to the trailing
// window. Series shorter than the window use everything available.
func CalculateMaxDrawdownWindow(prices []float64, window int) *float64 {
	if len(prices) > window && window > 1 {
		prices = prices[len(prices)-window:]
	}
	return CalculateMaxDrawdown(prices)
}
