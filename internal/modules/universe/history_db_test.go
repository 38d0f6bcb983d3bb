package universe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/aristath/frontier/internal/testing"
)

func newTestHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()
	return NewHistoryDB(testingpkg.NewTestDB(t, "history").Conn(), zerolog.Nop())
}

func day(y int, m time.Month, d int) time.Time {
	return testingpkg.Day(y, m, d)
}

func closes(prices []DailyPrice) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = p.Close
	}
	return out
}

func TestHistoryDB_UpsertAndRange(t *testing.T) {
	h := newTestHistoryDB(t)
	ctx := context.Background()
	volume := int64(1000)

	require.NoError(t, h.UpsertDailyPrices(ctx, "TCS", []DailyPrice{
		{Date: "2024-01-03", Close: 102, Open: 101, High: 103, Low: 100, Volume: &volume},
		{Date: "2024-01-01", Close: 100},
		{Date: "2024-01-02", Close: 101},
	}))
	require.NoError(t, h.UpsertDailyPrices(ctx, "INFY", []DailyPrice{{Date: "2024-01-02", Close: 50}}))

	prices, err := h.GetDailyPrices(ctx, "TCS", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, prices, 3)
	assert.Equal(t, []float64{100, 101, 102}, closes(prices))
	assert.Equal(t, "2024-01-01", prices[0].Date)
	assert.Nil(t, prices[0].Volume)
	assert.Equal(t, 0.0, prices[0].Open)
	require.NotNil(t, prices[2].Volume)
	assert.Equal(t, int64(1000), *prices[2].Volume)
	assert.Equal(t, 103.0, prices[2].High)

	// Range bounds are inclusive
	prices, err = h.GetDailyPrices(ctx, "TCS", day(2024, 1, 2), day(2024, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{101}, closes(prices))

	// Time of day is ignored
	prices, err = h.GetDailyPrices(ctx, "TCS", day(2024, 1, 2).Add(15*time.Hour), day(2024, 1, 3).Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{101, 102}, closes(prices))
}

func TestHistoryDB_UpsertReplaces(t *testing.T) {
	h := newTestHistoryDB(t)
	ctx := context.Background()

	require.NoError(t, h.UpsertDailyPrices(ctx, "TCS", []DailyPrice{{Date: "2024-01-01", Close: 100}}))
	require.NoError(t, h.UpsertDailyPrices(ctx, "TCS", []DailyPrice{{Date: "2024-01-01", Close: 105}}))

	prices, err := h.GetDailyPrices(ctx, "TCS", day(2024, 1, 1), day(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{105}, closes(prices))
}

func TestHistoryDB_UpsertRollsBackOnBadDate(t *testing.T) {
	h := newTestHistoryDB(t)
	ctx := context.Background()

	err := h.UpsertDailyPrices(ctx, "TCS", []DailyPrice{
		{Date: "2024-01-01", Close: 100},
		{Date: "01/02/2024", Close: 101},
	})
	require.Error(t, err)

	_, ok, err := h.LatestDate(ctx, "TCS")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryDB_LatestDate(t *testing.T) {
	h := newTestHistoryDB(t)
	ctx := context.Background()

	_, ok, err := h.LatestDate(ctx, "TCS")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.UpsertDailyPrices(ctx, "TCS", []DailyPrice{
		{Date: "2024-03-01", Close: 100},
		{Date: "2024-02-01", Close: 100},
	}))

	latest, ok, err := h.LatestDate(ctx, "TCS")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, day(2024, 3, 1), latest)
}

func TestHistoryDB_SyncRuns(t *testing.T) {
	h := newTestHistoryDB(t)
	ctx := context.Background()
	start := day(2024, 5, 1).Add(10 * time.Hour)

	require.NoError(t, h.RecordSyncRun(ctx, SyncRun{Symbol: "TCS", StartedAt: start, FinishedAt: start.Add(time.Second), Rows: 20}))
	require.NoError(t, h.RecordSyncRun(ctx, SyncRun{Symbol: "INFY", StartedAt: start, FinishedAt: start.Add(2 * time.Second), Error: "token expired"}))

	runs, err := h.RecentSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "INFY", runs[0].Symbol)
	assert.Equal(t, "token expired", runs[0].Error)
	assert.Equal(t, "TCS", runs[1].Symbol)
	assert.Equal(t, 20, runs[1].Rows)
	assert.Empty(t, runs[1].Error)
	assert.Equal(t, start, runs[1].StartedAt)

	runs, err = h.RecentSyncRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
