package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/optimization"
)

// backfillGap is how far the first cached day may trail the requested start
// before the missing leading range is fetched. It covers weekends and
// exchange holidays.
const backfillGap = 7 * 24 * time.Hour

// PriceRepository serves daily closes to the optimizer. It reads the history
// cache and falls back to the provider when the cache has nothing for the
// requested range, or starts well after it, storing what it fetched.
type PriceRepository struct {
	catalog   Catalog
	history   HistoryStore
	provider  CandleProvider
	validator *PriceValidator
	log       zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(catalog Catalog, history HistoryStore, provider CandleProvider, validator *PriceValidator, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		catalog:   catalog,
		history:   history,
		provider:  provider,
		validator: validator,
		log:       log.With().Str("repository", "price").Logger(),
	}
}

// GetDailyCloses implements optimization.PriceSource
func (r *PriceRepository) GetDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]optimization.PricePoint, error) {
	prices, err := r.history.GetDailyPrices(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached prices for %s: %w", symbol, err)
	}

	if len(prices) == 0 {
		prices, err = r.fetch(ctx, symbol, from, to)
		if err != nil {
			return nil, err
		}
	} else if earliest, err := time.ParseInLocation(dateLayout, prices[0].Date, time.UTC); err == nil && earliest.Sub(from) > backfillGap {
		prices = r.backfill(ctx, symbol, from, earliest, prices)
	}

	points := make([]optimization.PricePoint, 0, len(prices))
	for _, p := range prices {
		date, err := time.ParseInLocation(dateLayout, p.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid cached date %q for %s: %w", p.Date, symbol, err)
		}
		points = append(points, optimization.PricePoint{Date: date, Close: p.Close})
	}
	return points, nil
}

// backfill prepends provider prices for [from, earliest) to cached. The
// cached range is served alone when the provider is missing or failing.
func (r *PriceRepository) backfill(ctx context.Context, symbol string, from, earliest time.Time, cached []DailyPrice) []DailyPrice {
	if r.provider == nil {
		return cached
	}

	fetched, err := r.fetch(ctx, symbol, from, earliest.AddDate(0, 0, -1))
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Str("cached_from", cached[0].Date).
			Msg("Backfill failed, serving the cached range only")
		return cached
	}

	out := make([]DailyPrice, 0, len(fetched)+len(cached))
	for _, p := range fetched {
		if p.Date < cached[0].Date {
			out = append(out, p)
		}
	}
	return append(out, cached...)
}

func (r *PriceRepository) fetch(ctx context.Context, symbol string, from, to time.Time) ([]DailyPrice, error) {
	inst, ok := r.catalog.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("unknown instrument %s", symbol)
	}
	if r.provider == nil {
		return nil, nil
	}

	r.log.Info().
		Str("symbol", symbol).
		Str("from", from.Format(dateLayout)).
		Str("to", to.Format(dateLayout)).
		Msg("Fetching uncached prices from provider")

	candles, err := r.provider.GetDailyCandles(ctx, inst.Token, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices for %s: %w", symbol, err)
	}

	prices, _ := r.validator.Filter(symbol, candlesToPrices(candles), nil)

	if err := r.history.UpsertDailyPrices(ctx, symbol, prices); err != nil {
		// The analysis can proceed without the cache
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache fetched prices")
	}

	return prices, nil
}
