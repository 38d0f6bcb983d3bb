package universe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/frontier/internal/clients/kite"
)

// DefaultSyncConcurrency bounds parallel provider fetches during SyncAll
const DefaultSyncConcurrency = 3

// ErrSyncInProgress is returned when SyncAll is called while a sync is running
var ErrSyncInProgress = errors.New("price sync already in progress")

// ErrNoProvider is returned by SyncAll when no market data provider is configured
var ErrNoProvider = errors.New("no market data provider configured")

// PriceSyncService keeps the history cache current with the market data provider.
//
// Workflow per instrument:
// 1. Resume from the latest cached date, or the configured history start
// 2. Fetch daily candles from the provider
// 3. Drop abnormal prices
// 4. Upsert daily_prices in one transaction
// 5. Record the run in sync_runs
type PriceSyncService struct {
	provider     CandleProvider
	catalog      Catalog
	history      HistoryStore
	validator    *PriceValidator
	historyStart time.Time
	concurrency  int
	running      atomic.Bool
	now          func() time.Time
	log          zerolog.Logger
}

// NewPriceSyncService creates a new price sync service
func NewPriceSyncService(
	provider CandleProvider,
	catalog Catalog,
	history HistoryStore,
	validator *PriceValidator,
	historyStart time.Time,
	log zerolog.Logger,
) *PriceSyncService {
	return &PriceSyncService{
		provider:     provider,
		catalog:      catalog,
		history:      history,
		validator:    validator,
		historyStart: historyStart,
		concurrency:  DefaultSyncConcurrency,
		now:          time.Now,
		log:          log.With().Str("service", "price_sync").Logger(),
	}
}

// SetConcurrency sets how many instruments are fetched in parallel
func (s *PriceSyncService) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// SyncAll syncs every instrument in the catalog. A failing instrument does
// not stop the others; the error is only non-nil when nothing succeeded or
// the context was cancelled.
func (s *PriceSyncService) SyncAll(ctx context.Context) (*SyncReport, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	instruments := s.catalog.All()
	report := &SyncReport{
		StartedAt: s.now().UTC(),
		Runs:      make([]SyncRun, len(instruments)),
	}

	s.log.Info().Int("instruments", len(instruments)).Msg("Starting price sync")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, inst := range instruments {
		g.Go(func() error {
			report.Runs[i] = s.SyncInstrument(gctx, inst)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = s.now().UTC()

	failed := report.Failed()
	s.log.Info().
		Int("instruments", len(instruments)).
		Int("failed", failed).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Price sync complete")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("price sync interrupted: %w", err)
	}
	if len(instruments) > 0 && failed == len(instruments) {
		return report, fmt.Errorf("price sync failed for all %d instruments: %s", failed, report.Runs[0].Error)
	}
	return report, nil
}

// SyncInstrument fetches and stores new prices for one instrument. Failures
// are reported in the returned run rather than as an error.
func (s *PriceSyncService) SyncInstrument(ctx context.Context, inst Instrument) SyncRun {
	run := SyncRun{Symbol: inst.Symbol, StartedAt: s.now().UTC()}

	rows, err := s.syncInstrument(ctx, inst)
	run.Rows = rows
	run.FinishedAt = s.now().UTC()
	if err != nil {
		run.Error = err.Error()
		s.log.Error().Err(err).Str("symbol", inst.Symbol).Msg("Instrument sync failed")
	}

	// Record even when the sync itself was cancelled
	if recErr := s.history.RecordSyncRun(context.WithoutCancel(ctx), run); recErr != nil {
		s.log.Warn().Err(recErr).Str("symbol", inst.Symbol).Msg("Failed to record sync run")
	}

	return run
}

func (s *PriceSyncService) syncInstrument(ctx context.Context, inst Instrument) (int, error) {
	to := s.now().UTC()
	from := s.historyStart

	latest, ok, err := s.history.LatestDate(ctx, inst.Symbol)
	if err != nil {
		return 0, err
	}
	if ok && latest.After(from) {
		// Re-fetch the latest day so a partial bar gets replaced
		from = latest
	}
	if from.After(to) {
		return 0, nil
	}

	candles, err := s.provider.GetDailyCandles(ctx, inst.Token, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch candles for %s: %w", inst.Symbol, err)
	}
	if len(candles) == 0 {
		s.log.Warn().Str("symbol", inst.Symbol).Msg("No price data returned")
		return 0, nil
	}

	prev, err := s.previousPrice(ctx, inst.Symbol, from)
	if err != nil {
		return 0, err
	}

	prices, rejected := s.validator.Filter(inst.Symbol, candlesToPrices(candles), prev)
	if len(rejected) > 0 {
		s.log.Warn().
			Str("symbol", inst.Symbol).
			Int("rejected", len(rejected)).
			Msg("Dropped abnormal prices")
	}

	if err := s.history.UpsertDailyPrices(ctx, inst.Symbol, prices); err != nil {
		return 0, fmt.Errorf("failed to store prices for %s: %w", inst.Symbol, err)
	}

	s.log.Info().
		Str("symbol", inst.Symbol).
		Str("from", from.Format(dateLayout)).
		Int("count", len(prices)).
		Msg("Instrument sync complete")

	return len(prices), nil
}

// previousPrice returns the latest cached price strictly before day
func (s *PriceSyncService) previousPrice(ctx context.Context, symbol string, day time.Time) (*DailyPrice, error) {
	// Two weeks covers weekends and exchange holidays
	prices, err := s.history.GetDailyPrices(ctx, symbol, day.AddDate(0, 0, -14), day.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return &prices[len(prices)-1], nil
}

func candlesToPrices(candles []kite.Candle) []DailyPrice {
	prices := make([]DailyPrice, len(candles))
	for i, c := range candles {
		volume := c.Volume
		prices[i] = DailyPrice{
			Date:   c.Date.Format(dateLayout),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: &volume,
		}
	}
	return prices
}
