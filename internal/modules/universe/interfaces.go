package universe

import (
	"context"
	"time"

	"github.com/aristath/frontier/internal/clients/kite"
)

// CandleProvider fetches daily candles from the market data provider.
// Implemented by kite.Client.
type CandleProvider interface {
	GetDailyCandles(ctx context.Context, token int64, from, to time.Time) ([]kite.Candle, error)
}

// HistoryStore defines the contract for history database operations
// Used by PriceSyncService and PriceRepository to enable testing with mocks
type HistoryStore interface {
	GetDailyPrices(ctx context.Context, symbol string, from, to time.Time) ([]DailyPrice, error)
	LatestDate(ctx context.Context, symbol string) (time.Time, bool, error)
	UpsertDailyPrices(ctx context.Context, symbol string, prices []DailyPrice) error
	RecordSyncRun(ctx context.Context, run SyncRun) error
}

// Catalog looks up instruments by symbol
type Catalog interface {
	Get(symbol string) (Instrument, bool)
	All() []Instrument
}
