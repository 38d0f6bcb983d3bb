package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReturns(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected []float64
	}{
		{"empty", nil, []float64{}},
		{"single price", []float64{100}, []float64{}},
		{"two prices", []float64{100, 110}, []float64{0.10}},
		{"up and down", []float64{100, 110, 99}, []float64{0.10, -0.10}},
		{"flat", []float64{50, 50, 50}, []float64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReturns(tt.prices)
			require.Len(t, got, len(tt.expected))
			for i := range tt.expected {
				assert.InDelta(t, tt.expected[i], got[i], 1e-12)
			}
		})
	}
}

func TestCalculateReturns_NonPositivePrice(t *testing.T) {
	got := CalculateReturns([]float64{100, 0, 50, 55})

	require.Len(t, got, 3)
	assert.InDelta(t, -1.0, got[0], 1e-12)
	assert.True(t, math.IsNaN(got[1]), "return after a zero price should be NaN")
	assert.InDelta(t, 0.10, got[2], 1e-12)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(1)))
	assert.False(t, IsFinite(math.Inf(-1)))
}
