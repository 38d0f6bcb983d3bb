// Package formulas provides reusable financial calculations.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateReturns converts prices to simple percentage returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
//
// The first price has no predecessor, so the result is one element shorter
// than the input. A non-positive previous price yields NaN for that step so
// callers can drop it instead of mistaking it for a flat day.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	// Rate of change (percentage) over one period; index 0 is lookback padding
	rocp := talib.Rocp(prices, 1)

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || !IsFinite(prices[i-1]) || !IsFinite(prices[i]) {
			returns[i-1] = math.NaN()
			continue
		}
		returns[i-1] = rocp[i]
	}

	return returns
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
