package universe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/database"
)

const dateLayout = "2006-01-02"

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// GetDailyPrices returns the stored prices of a symbol between from and to
// (inclusive), ordered by date ascending
func (h *HistoryDB) GetDailyPrices(ctx context.Context, symbol string, from, to time.Time) ([]DailyPrice, error) {
	query := `
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := h.db.QueryContext(ctx, query, symbol, dayUnix(from), dayUnix(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var dateUnix int64
		var open, high, low sql.NullFloat64
		var volume sql.NullInt64

		if err := rows.Scan(&dateUnix, &open, &high, &low, &p.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		p.Date = time.Unix(dateUnix, 0).UTC().Format(dateLayout)
		p.Open = open.Float64
		p.High = high.Float64
		p.Low = low.Float64
		if volume.Valid {
			v := volume.Int64
			p.Volume = &v
		}

		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// LatestDate returns the most recent stored date for a symbol.
// ok is false when nothing is stored yet.
func (h *HistoryDB) LatestDate(ctx context.Context, symbol string) (latest time.Time, ok bool, err error) {
	var dateUnix sql.NullInt64
	err = h.db.QueryRowContext(ctx, "SELECT MAX(date) FROM daily_prices WHERE symbol = ?", symbol).Scan(&dateUnix)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest date: %w", err)
	}
	if !dateUnix.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(dateUnix.Int64, 0).UTC(), true, nil
}

// UpsertDailyPrices inserts or replaces prices for a symbol in one transaction
func (h *HistoryDB) UpsertDailyPrices(ctx context.Context, symbol string, prices []DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	now := time.Now().Unix()

	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_prices (symbol, date, open, high, low, close, volume, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, price := range prices {
			date, err := time.ParseInLocation(dateLayout, price.Date, time.UTC)
			if err != nil {
				return fmt.Errorf("failed to parse date %s: %w", price.Date, err)
			}

			volume := sql.NullInt64{}
			if price.Volume != nil {
				volume = sql.NullInt64{Int64: *price.Volume, Valid: true}
			}

			if _, err := stmt.ExecContext(ctx,
				symbol,
				date.Unix(),
				nullablePrice(price.Open),
				nullablePrice(price.High),
				nullablePrice(price.Low),
				price.Close,
				volume,
				now,
			); err != nil {
				return fmt.Errorf("failed to upsert daily price for %s: %w", price.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Debug().
		Str("symbol", symbol).
		Int("count", len(prices)).
		Msg("Stored daily prices")

	return nil
}

// RecordSyncRun appends a sync run to the audit table
func (h *HistoryDB) RecordSyncRun(ctx context.Context, run SyncRun) error {
	var syncErr sql.NullString
	if run.Error != "" {
		syncErr = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO sync_runs (symbol, started_at, finished_at, row_count, error) VALUES (?, ?, ?, ?, ?)`,
		run.Symbol, run.StartedAt.Unix(), run.FinishedAt.Unix(), run.Rows, syncErr,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// RecentSyncRuns returns the latest sync runs, newest first
func (h *HistoryDB) RecentSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT symbol, started_at, finished_at, row_count, error
		FROM sync_runs
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		var started, finished int64
		var syncErr sql.NullString
		if err := rows.Scan(&run.Symbol, &started, &finished, &run.Rows, &syncErr); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		run.FinishedAt = time.Unix(finished, 0).UTC()
		run.Error = syncErr.String
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// dayUnix converts a time to Unix seconds at midnight UTC of its calendar day
func dayUnix(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

func nullablePrice(v float64) sql.NullFloat64 {
	if v == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
