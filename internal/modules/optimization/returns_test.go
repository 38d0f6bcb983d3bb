package optimization

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func series(symbol string, closes map[int]float64) PriceSeries {
	s := PriceSeries{Symbol: symbol}
	for d, c := range closes {
		s.Points = append(s.Points, PricePoint{Date: day(d), Close: c})
	}
	return s
}

func TestBuildReturnMatrix_InnerJoinsOnDate(t *testing.T) {
	a := series("A", map[int]float64{0: 100, 1: 110, 2: 121, 3: 133.1})
	b := series("B", map[int]float64{0: 50, 1: 55, 3: 44}) // no close on day 2

	m, err := BuildReturnMatrix([]PriceSeries{a, b})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, m.Symbols())
	require.Equal(t, 2, m.Rows())
	assert.Equal(t, 2, m.Cols())
	assert.Equal(t, []time.Time{day(1), day(3)}, m.Dates())

	assert.InDelta(t, 0.1, m.At(0, 0), 1e-12)
	assert.InDelta(t, 0.1, m.At(0, 1), 1e-12)
	assert.InDelta(t, 0.1, m.At(1, 0), 1e-12)
	// B's day 3 return is measured against day 1
	assert.InDelta(t, -0.2, m.At(1, 1), 1e-12)
}

func TestBuildReturnMatrix_RowsAreSubsetOfEveryInstrument(t *testing.T) {
	a := series("A", map[int]float64{0: 10, 1: 11, 2: 12, 4: 13, 5: 12})
	b := series("B", map[int]float64{1: 20, 2: 21, 3: 22, 4: 23, 5: 24})
	c := series("C", map[int]float64{0: 5, 2: 6, 4: 7, 5: 8})

	m, err := BuildReturnMatrix([]PriceSeries{a, b, c})
	require.NoError(t, err)

	perInstrument := []map[string]float64{
		dailyReturns(a.Points),
		dailyReturns(b.Points),
		dailyReturns(c.Points),
	}
	for _, d := range m.Dates() {
		key := d.Format(dateLayout)
		for j, returns := range perInstrument {
			_, ok := returns[key]
			assert.True(t, ok, "date %s missing from instrument %d", key, j)
		}
	}
	assert.Equal(t, []time.Time{day(2), day(4), day(5)}, m.Dates())
}

func TestBuildReturnMatrix_UnsortedInputAndDuplicateDates(t *testing.T) {
	a := PriceSeries{Symbol: "A", Points: []PricePoint{
		{Date: day(2), Close: 120},
		{Date: day(0), Close: 100},
		{Date: day(1), Close: 999},
		{Date: day(1), Close: 110}, // last observation wins
	}}
	b := series("B", map[int]float64{0: 10, 1: 10, 2: 10})

	m, err := BuildReturnMatrix([]PriceSeries{a, b})
	require.NoError(t, err)
	require.Equal(t, 2, m.Rows())
	assert.InDelta(t, 0.1, m.At(0, 0), 1e-12)
	assert.InDelta(t, 120.0/110.0-1, m.At(1, 0), 1e-12)
	assert.Equal(t, 0.0, m.At(0, 1))
}

func TestBuildReturnMatrix_DropsNonFiniteReturns(t *testing.T) {
	a := series("A", map[int]float64{0: 0, 1: 10, 2: 11})
	b := series("B", map[int]float64{0: 5, 1: 6, 2: 7})

	m, err := BuildReturnMatrix([]PriceSeries{a, b})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2)}, m.Dates())
}

func TestBuildReturnMatrix_InsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		series []PriceSeries
	}{
		{
			name:   "no instruments",
			series: nil,
		},
		{
			name:   "single instrument",
			series: []PriceSeries{series("A", map[int]float64{0: 1, 1: 2, 2: 3})},
		},
		{
			name: "second instrument has one price",
			series: []PriceSeries{
				series("A", map[int]float64{0: 1, 1: 2}),
				series("B", map[int]float64{0: 1}),
			},
		},
		{
			name: "zero date overlap",
			series: []PriceSeries{
				series("A", map[int]float64{0: 1, 1: 2, 2: 3}),
				series("B", map[int]float64{10: 1, 11: 2, 12: 3}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := BuildReturnMatrix(tt.series)
			require.Error(t, err)
			assert.Nil(t, m)

			var insufficient *InsufficientDataError
			assert.True(t, errors.As(err, &insufficient), "expected InsufficientDataError, got %T", err)
		})
	}
}

func TestNewReturnMatrix_Validation(t *testing.T) {
	_, err := NewReturnMatrix([]string{"A", "B"}, []time.Time{day(0)}, [][]float64{{0.1}})
	assert.Error(t, err)

	_, err = NewReturnMatrix([]string{"A"}, []time.Time{day(0), day(1)}, [][]float64{{0.1}})
	assert.Error(t, err)

	_, err = NewReturnMatrix(nil, nil, nil)
	var insufficient *InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestReturnMatrix_ColumnIsCopy(t *testing.T) {
	m, err := NewReturnMatrix([]string{"A", "B"}, []time.Time{day(0), day(1)}, [][]float64{{0.1, 0.2}, {0.3, 0.4}})
	require.NoError(t, err)

	col := m.Column(1)
	assert.Equal(t, []float64{0.2, 0.4}, col)
	col[0] = 99
	assert.Equal(t, 0.2, m.At(0, 1))
}
