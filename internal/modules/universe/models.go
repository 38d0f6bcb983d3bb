package universe

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Instrument is a tradable security known to the market data provider
type Instrument struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Token  int64  `json:"token"` // Kite instrument token
}

// DefaultInstruments returns the five NSE blue chips the analysis ships with
func DefaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "RELIANCE", Name: "Reliance Industries", Token: 738561},
		{Symbol: "TCS", Name: "Tata Consultancy Services", Token: 2953217},
		{Symbol: "HDFCBANK", Name: "HDFC Bank", Token: 341249},
		{Symbol: "INFY", Name: "Infosys", Token: 408065},
		{Symbol: "ICICIBANK", Name: "ICICI Bank", Token: 1270529},
	}
}

// ParseInstruments parses "SYMBOL:TOKEN:Name;SYMBOL:TOKEN:Name".
// The name is optional and defaults to the symbol.
func ParseInstruments(s string) ([]Instrument, error) {
	var instruments []Instrument
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid instrument %q: expected SYMBOL:TOKEN[:Name]", entry)
		}

		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		if symbol == "" {
			return nil, fmt.Errorf("invalid instrument %q: empty symbol", entry)
		}

		token, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || token <= 0 {
			return nil, fmt.Errorf("invalid instrument %q: token must be a positive integer", entry)
		}

		name := symbol
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
			name = strings.TrimSpace(parts[2])
		}

		instruments = append(instruments, Instrument{Symbol: symbol, Name: name, Token: token})
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments in %q", s)
	}
	return instruments, nil
}

// Universe is the fixed catalog of instruments available for analysis
type Universe struct {
	instruments []Instrument
	bySymbol    map[string]Instrument
}

// NewUniverse builds a catalog. Symbols must be unique.
func NewUniverse(instruments []Instrument) (*Universe, error) {
	u := &Universe{
		instruments: make([]Instrument, 0, len(instruments)),
		bySymbol:    make(map[string]Instrument, len(instruments)),
	}
	for _, inst := range instruments {
		if _, dup := u.bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		u.bySymbol[inst.Symbol] = inst
		u.instruments = append(u.instruments, inst)
	}
	return u, nil
}

// Has reports whether the symbol is in the catalog
func (u *Universe) Has(symbol string) bool {
	_, ok := u.bySymbol[symbol]
	return ok
}

// Get returns the instrument for a symbol
func (u *Universe) Get(symbol string) (Instrument, bool) {
	inst, ok := u.bySymbol[symbol]
	return inst, ok
}

// All returns the instruments in catalog order
func (u *Universe) All() []Instrument {
	out := make([]Instrument, len(u.instruments))
	copy(out, u.instruments)
	return out
}

// Symbols returns the catalog symbols sorted alphabetically
func (u *Universe) Symbols() []string {
	symbols := make([]string, 0, len(u.instruments))
	for _, inst := range u.instruments {
		symbols = append(symbols, inst.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// DailyPrice represents a daily OHLCV price point
type DailyPrice struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// SyncRun records the outcome of syncing one instrument
type SyncRun struct {
	Symbol     string    `json:"symbol"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
}

// SyncReport summarizes a SyncAll pass
type SyncReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Runs       []SyncRun `json:"runs"`
}

// Failed returns the number of instruments whose sync failed
func (r *SyncReport) Failed() int {
	failed := 0
	for _, run := range r.Runs {
		if run.Error != "" {
			failed++
		}
	}
	return failed
}
