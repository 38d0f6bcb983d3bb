package optimization

import (
	"context"
	"time"
)

// PriceSource provides daily close history for an instrument.
type PriceSource interface {
	GetDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error)
}

// InstrumentCatalog reports which symbols are configured.
// Used to avoid circular dependencies with universe module.
type InstrumentCatalog interface {
	Has(symbol string) bool
	Symbols() []string
}
