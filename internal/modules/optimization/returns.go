package optimization

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/frontier/pkg/formulas"
)

const dateLayout = "2006-01-02"

// ReturnMatrix holds aligned daily simple returns: one row per date, one
// column per instrument in selection order. Every cell is finite.
type ReturnMatrix struct {
	symbols []string
	dates   []time.Time
	data    *mat.Dense
}

// NewReturnMatrix builds a matrix from already aligned rows.
// rows[i][j] is the return of symbols[j] on dates[i].
func NewReturnMatrix(symbols []string, dates []time.Time, rows [][]float64) (*ReturnMatrix, error) {
	if len(symbols) == 0 {
		return nil, &InsufficientDataError{Message: "no instruments"}
	}
	if len(rows) == 0 {
		return nil, &InsufficientDataError{Message: "no aligned dates"}
	}
	if len(dates) != len(rows) {
		return nil, fmt.Errorf("got %d dates for %d rows", len(dates), len(rows))
	}

	flat := make([]float64, 0, len(rows)*len(symbols))
	for i, row := range rows {
		if len(row) != len(symbols) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(symbols))
		}
		for j, v := range row {
			if !formulas.IsFinite(v) {
				return nil, fmt.Errorf("non-finite return for %s on row %d", symbols[j], i)
			}
		}
		flat = append(flat, row...)
	}

	return &ReturnMatrix{
		symbols: append([]string(nil), symbols...),
		dates:   append([]time.Time(nil), dates...),
		data:    mat.NewDense(len(rows), len(symbols), flat),
	}, nil
}

// BuildReturnMatrix converts raw close series into an aligned return matrix.
//
// Each series is sorted by date (a repeated date keeps its last close) and
// turned into simple returns, dropping the first date. Dates are then inner
// joined: a date missing from any one instrument is removed for all of them.
// Columns follow the order of series.
func BuildReturnMatrix(series []PriceSeries) (*ReturnMatrix, error) {
	perInstrument := make([]map[string]float64, len(series))
	withData := 0

	for i, s := range series {
		returns := dailyReturns(s.Points)
		perInstrument[i] = returns
		if len(returns) > 0 {
			withData++
		}
	}

	if withData < 2 {
		return nil, &InsufficientDataError{
			Message: fmt.Sprintf("need return data for at least 2 instruments, have %d", withData),
		}
	}

	// Intersect on the first instrument's dates, in ascending order
	keys := make([]string, 0, len(perInstrument[0]))
	for key := range perInstrument[0] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	symbols := make([]string, len(series))
	for j, s := range series {
		symbols[j] = s.Symbol
	}

	var dates []time.Time
	var rows [][]float64
	for _, key := range keys {
		row := make([]float64, len(series))
		present := true
		for j, returns := range perInstrument {
			r, ok := returns[key]
			if !ok {
				present = false
				break
			}
			row[j] = r
		}
		if !present {
			continue
		}
		d, err := time.Parse(dateLayout, key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date key %q: %w", key, err)
		}
		dates = append(dates, d)
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, &InsufficientDataError{Message: "no common dates across selected instruments"}
	}

	return NewReturnMatrix(symbols, dates, rows)
}

// dailyReturns maps each date (after the first) to its simple return.
// Non-finite returns are left out.
func dailyReturns(points []PricePoint) map[string]float64 {
	byDate := make(map[string]float64, len(points))
	for _, p := range points {
		byDate[p.Date.Format(dateLayout)] = p.Close
	}
	if len(byDate) < 2 {
		return map[string]float64{}
	}

	keys := make([]string, 0, len(byDate))
	for key := range byDate {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	closes := make([]float64, len(keys))
	for i, key := range keys {
		closes[i] = byDate[key]
	}

	returns := formulas.CalculateReturns(closes)
	out := make(map[string]float64, len(returns))
	for i, r := range returns {
		if !formulas.IsFinite(r) {
			continue
		}
		out[keys[i+1]] = r
	}
	return out
}

// Symbols returns the column symbols in order
func (m *ReturnMatrix) Symbols() []string {
	return append([]string(nil), m.symbols...)
}

// Dates returns the row dates in ascending order
func (m *ReturnMatrix) Dates() []time.Time {
	return append([]time.Time(nil), m.dates...)
}

// Rows returns the number of aligned dates
func (m *ReturnMatrix) Rows() int {
	r, _ := m.data.Dims()
	return r
}

// Cols returns the number of instruments
func (m *ReturnMatrix) Cols() int {
	_, c := m.data.Dims()
	return c
}

// At returns the return of instrument j on row i
func (m *ReturnMatrix) At(i, j int) float64 {
	return m.data.At(i, j)
}

// Column returns a copy of instrument j's returns
func (m *ReturnMatrix) Column(j int) []float64 {
	return mat.Col(nil, j, m.data)
}

// Matrix exposes the underlying data read-only
func (m *ReturnMatrix) Matrix() mat.Matrix {
	return m.data
}
