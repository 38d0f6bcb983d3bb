package universe

import (
	"math"

	"github.com/rs/zerolog"
)

const (
	// Validation thresholds
	maxPriceChangePercent = 1000.0 // >1000% change is a spike
	minPriceChangePercent = -90.0  // <-90% change is a crash

	// After this many consecutive rejections the series is treated as having
	// moved to a new level (split, consolidation) and the reference resets
	maxConsecutiveRejections = 3
)

// Rejection records a price dropped during validation
type Rejection struct {
	Date   string
	Close  float64
	Reason string
}

// PriceValidator filters abnormal prices before they reach the history cache
type PriceValidator struct {
	log zerolog.Logger
}

// NewPriceValidator creates a new price validator
func NewPriceValidator(log zerolog.Logger) *PriceValidator {
	return &PriceValidator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// ValidatePrice checks if a price is valid. prev is the last accepted price,
// nil when there is none.
// Returns (isValid, reason)
func (v *PriceValidator) ValidatePrice(price DailyPrice, prev *DailyPrice) (bool, string) {
	// 1. The close feeds the return series and must be usable
	if math.IsNaN(price.Close) || math.IsInf(price.Close, 0) {
		return false, "close_not_finite"
	}
	if price.Close <= 0 {
		return false, "close_not_positive"
	}

	// 2. OHLC consistency checks, only when the full bar is present
	if price.Open > 0 && price.High > 0 && price.Low > 0 {
		if price.High < price.Low {
			return false, "high_below_low"
		}
		if price.High < price.Open {
			return false, "high_below_open"
		}
		if price.High < price.Close {
			return false, "high_below_close"
		}
		if price.Low > price.Open {
			return false, "low_above_open"
		}
		if price.Low > price.Close {
			return false, "low_above_close"
		}
	}

	// 3. Day-over-day change against the last accepted close
	if prev != nil && prev.Close > 0 {
		changePercent := ((price.Close - prev.Close) / prev.Close) * 100.0
		if changePercent > maxPriceChangePercent {
			return false, "spike_detected"
		}
		if changePercent < minPriceChangePercent {
			return false, "crash_detected"
		}
	}

	return true, ""
}

// Filter validates prices in date order and returns the accepted ones along
// with what was dropped. prev seeds the day-over-day check, typically the
// latest cached price.
func (v *PriceValidator) Filter(symbol string, prices []DailyPrice, prev *DailyPrice) ([]DailyPrice, []Rejection) {
	accepted := make([]DailyPrice, 0, len(prices))
	var rejected []Rejection
	consecutive := 0

	for _, price := range prices {
		valid, reason := v.ValidatePrice(price, prev)
		if !valid && consecutive >= maxConsecutiveRejections && (reason == "spike_detected" || reason == "crash_detected") {
			// Level shift: re-anchor on the new level
			valid, reason = v.ValidatePrice(price, nil)
		}

		if !valid {
			consecutive++
			rejected = append(rejected, Rejection{Date: price.Date, Close: price.Close, Reason: reason})
			v.log.Warn().
				Str("symbol", symbol).
				Str("date", price.Date).
				Float64("close", price.Close).
				Str("reason", reason).
				Msg("Rejected abnormal price")
			continue
		}

		consecutive = 0
		accepted = append(accepted, price)
		prev = &accepted[len(accepted)-1]
	}

	return accepted, rejected
}
