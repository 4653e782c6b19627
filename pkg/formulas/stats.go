package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from daily returns:
// standard deviation of daily returns x sqrt(252 trading days).
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(252)
}

// CalculateReturns converts prices to simple percentage returns:
// Returns[i] = (Price[i+1] - Price[i]) / Price[i].
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// CalculateZScore measures how far the last value sits from the window mean,
// in standard deviations, over the trailing window. Nil when the series is
// shorter than the window or the window is flat.
func CalculateZScore(values []float64, window int) *float64 {
	if window < 2 || len(values) < window {
		return nil
	}

	tail := values[len(values)-window:]
	mean := stat.Mean(tail, nil)
	sd := stat.StdDev(tail, nil)
	if sd == 0 || isNaN(sd) {
		return nil
	}

	z := (tail[len(tail)-1] - mean) / sd
	return &z
}

// CalculateVolatility calculates annualized volatility from daily prices.
// Returns a fraction (0.25 = 25% annualized), or nil for short series.
func CalculateVolatility(prices []float64) *float64 {
	if len(prices) < 2 {
		return nil
	}

	returns := CalculateReturns(prices)
	volatility := AnnualizedVolatility(returns)

	return &volatility
}
