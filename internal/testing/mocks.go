package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/frontier/internal/clients/kite"
)

// CandleCall records one GetDailyCandles request
type CandleCall struct {
	Token int64
	From  time.Time
	To    time.Time
}

// MockCandleProvider is a mock market data provider for testing. It serves
// the configured candles that fall inside the requested range.
type MockCandleProvider struct {
	mu      sync.Mutex
	candles map[int64][]kite.Candle
	errs    map[int64]error
	calls   []CandleCall
}

// NewMockCandleProvider creates a new mock candle provider
func NewMockCandleProvider() *MockCandleProvider {
	return &MockCandleProvider{
		candles: make(map[int64][]kite.Candle),
		errs:    make(map[int64]error),
	}
}

// SetCandles sets the candles to serve for an instrument token
func (m *MockCandleProvider) SetCandles(token int64, candles []kite.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[token] = candles
}

// SetError sets the error to return for an instrument token
func (m *MockCandleProvider) SetError(token int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[token] = err
}

// GetDailyCandles returns the configured candles between from and to inclusive
func (m *MockCandleProvider) GetDailyCandles(ctx context.Context, token int64, from, to time.Time) ([]kite.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, CandleCall{Token: token, From: from, To: to})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.errs[token]; err != nil {
		return nil, err
	}

	var out []kite.Candle
	for _, c := range m.candles[token] {
		if c.Date.Before(from) || c.Date.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Calls returns a copy of the recorded requests
func (m *MockCandleProvider) Calls() []CandleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CandleCall(nil), m.calls...)
}

// CallCount returns the number of requests made
func (m *MockCandleProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
