package universe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/frontier/internal/testing"
)

func testUniverse(t *testing.T) *Universe {
	t.Helper()
	u, err := NewUniverse([]Instrument{
		{Symbol: "TCS", Name: "Tata Consultancy Services", Token: 2953217},
		{Symbol: "INFY", Name: "Infosys", Token: 408065},
	})
	require.NoError(t, err)
	return u
}

func newTestSyncService(t *testing.T, provider CandleProvider, history *HistoryDB, now time.Time) *PriceSyncService {
	t.Helper()
	svc := NewPriceSyncService(provider, testUniverse(t), history, NewPriceValidator(zerolog.Nop()), day(2024, 1, 1), zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestPriceSyncService_SyncAll(t *testing.T) {
	history := newTestHistoryDB(t)
	provider := testingpkg.NewMockCandleProvider()
	provider.SetCandles(2953217, testingpkg.CandleSeries(day(2024, 1, 1), 100, 101, 102))
	provider.SetCandles(408065, testingpkg.CandleSeries(day(2024, 1, 1), 50, 51, -1, 52))
	svc := newTestSyncService(t, provider, history, day(2024, 1, 10))

	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Runs, 2)
	assert.Equal(t, 0, report.Failed())

	// Runs follow catalog order
	assert.Equal(t, "TCS", report.Runs[0].Symbol)
	assert.Equal(t, 3, report.Runs[0].Rows)
	assert.Equal(t, "INFY", report.Runs[1].Symbol)
	assert.Equal(t, 3, report.Runs[1].Rows, "the negative close is dropped")

	ctx := context.Background()
	prices, err := history.GetDailyPrices(ctx, "INFY", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 51, 52}, closes(prices))

	runs, err := history.RecentSyncRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestPriceSyncService_ResumesFromLatestCachedDate(t *testing.T) {
	history := newTestHistoryDB(t)
	ctx := context.Background()
	require.NoError(t, history.UpsertDailyPrices(ctx, "TCS", []DailyPrice{
		{Date: "2024-01-01", Close: 100},
		{Date: "2024-01-02", Close: 101},
	}))

	provider := testingpkg.NewMockCandleProvider()
	provider.SetCandles(2953217, testingpkg.CandleSeries(day(2024, 1, 1), 100, 101.5, 103))
	svc := newTestSyncService(t, provider, history, day(2024, 1, 3))

	run := svc.SyncInstrument(ctx, Instrument{Symbol: "TCS", Token: 2953217})
	assert.Empty(t, run.Error)
	assert.Equal(t, 2, run.Rows)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, day(2024, 1, 2), calls[0].From)

	prices, err := history.GetDailyPrices(ctx, "TCS", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101.5, 103}, closes(prices), "latest day is refreshed")
}

func TestPriceSyncService_PartialFailure(t *testing.T) {
	history := newTestHistoryDB(t)
	provider := testingpkg.NewMockCandleProvider()
	provider.SetCandles(2953217, testingpkg.CandleSeries(day(2024, 1, 1), 100, 101))
	provider.SetError(408065, errors.New("provider unavailable"))
	svc := newTestSyncService(t, provider, history, day(2024, 1, 5))

	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())
	assert.Empty(t, report.Runs[0].Error)
	assert.Contains(t, report.Runs[1].Error, "provider unavailable")
}

func TestPriceSyncService_AllFailed(t *testing.T) {
	history := newTestHistoryDB(t)
	boom := errors.New("token expired")
	provider := testingpkg.NewMockCandleProvider()
	provider.SetError(2953217, boom)
	provider.SetError(408065, boom)
	svc := newTestSyncService(t, provider, history, day(2024, 1, 5))

	report, err := svc.SyncAll(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Failed())
}

func TestPriceSyncService_Cancelled(t *testing.T) {
	history := newTestHistoryDB(t)
	provider := testingpkg.NewMockCandleProvider()
	svc := newTestSyncService(t, provider, history, day(2024, 1, 5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SyncAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPriceSyncService_RejectsConcurrentRuns(t *testing.T) {
	history := newTestHistoryDB(t)
	svc := newTestSyncService(t, testingpkg.NewMockCandleProvider(), history, day(2024, 1, 5))

	svc.running.Store(true)
	_, err := svc.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	svc.running.Store(false)
	_, err = svc.SyncAll(context.Background())
	assert.NoError(t, err)
}

func TestPriceSyncService_NoProvider(t *testing.T) {
	svc := NewPriceSyncService(nil, testUniverse(t), newTestHistoryDB(t), NewPriceValidator(zerolog.Nop()), day(2024, 1, 1), zerolog.Nop())

	_, err := svc.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestPriceSyncService_HistoryStartInFuture(t *testing.T) {
	history := newTestHistoryDB(t)
	provider := testingpkg.NewMockCandleProvider()
	svc := newTestSyncService(t, provider, history, day(2023, 6, 1))

	run := svc.SyncInstrument(context.Background(), Instrument{Symbol: "TCS", Token: 2953217})
	assert.Empty(t, run.Error)
	assert.Equal(t, 0, run.Rows)
	assert.Equal(t, 0, provider.CallCount())
}

func TestPriceSyncService_SetConcurrency(t *testing.T) {
	provider := testingpkg.NewMockCandleProvider()
	provider.SetCandles(2953217, testingpkg.CandleSeries(day(2024, 1, 1), 100, 101))
	provider.SetCandles(408065, testingpkg.CandleSeries(day(2024, 1, 1), 50, 51))
	svc := newTestSyncService(t, provider, newTestHistoryDB(t), day(2024, 1, 10))

	svc.SetConcurrency(0)
	assert.Equal(t, DefaultSyncConcurrency, svc.concurrency, "non-positive values are ignored")

	svc.SetConcurrency(1)
	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed())
	assert.Equal(t, 2, provider.CallCount())
}
