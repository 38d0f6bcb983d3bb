package testing

import (
	"time"

	"github.com/aristath/frontier/internal/clients/kite"
)

// Day returns midnight UTC of the given calendar day
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// CandleSeries returns one flat candle per consecutive calendar day from
// start, with open, high, low and close all set to the given close
func CandleSeries(start time.Time, closes ...float64) []kite.Candle {
	out := make([]kite.Candle, len(closes))
	for i, c := range closes {
		out[i] = kite.Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}
