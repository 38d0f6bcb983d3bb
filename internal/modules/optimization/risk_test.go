package optimization

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// handCheckedCalculator is the two-instrument scenario:
// A = [0.01, -0.02, 0.03], B = [0, 0.01, -0.01]
func handCheckedCalculator(t *testing.T) *MetricsCalculator {
	t.Helper()
	m, err := NewReturnMatrix(
		[]string{"A", "B"},
		[]time.Time{day(1), day(2), day(3)},
		[][]float64{
			{0.01, 0},
			{-0.02, 0.01},
			{0.03, -0.01},
		},
	)
	require.NoError(t, err)

	calc, err := NewMetricsCalculator(m, DefaultRiskParams())
	require.NoError(t, err)
	return calc
}

// syntheticCalculator draws rows of independent normal daily returns
func syntheticCalculator(t *testing.T, rows int, means, stdDevs []float64, seed uint64) *MetricsCalculator {
	t.Helper()
	symbols := make([]string, len(means))
	dists := make([]distuv.Normal, len(means))
	for j := range means {
		symbols[j] = string(rune('A' + j))
		dists[j] = distuv.Normal{Mu: means[j], Sigma: stdDevs[j], Src: rand.NewPCG(seed, uint64(j))}
	}

	dates := make([]time.Time, rows)
	data := make([][]float64, rows)
	for i := range data {
		dates[i] = day(i)
		data[i] = make([]float64, len(means))
		for j := range means {
			data[i][j] = dists[j].Rand()
		}
	}

	m, err := NewReturnMatrix(symbols, dates, data)
	require.NoError(t, err)
	calc, err := NewMetricsCalculator(m, DefaultRiskParams())
	require.NoError(t, err)
	return calc
}

func TestMetrics_HandCheckedScenario(t *testing.T) {
	calc := handCheckedCalculator(t)

	metrics, err := calc.Metrics([]float64{0.5, 0.5})
	require.NoError(t, err)

	assert.InDelta(t, 84.0, metrics.Return, 1e-9)
	assert.InDelta(t, 100*math.Sqrt(0.0147), metrics.Risk, 1e-9)
	assert.InDelta(t, 12.1244, metrics.Risk, 1e-4)
	assert.InDelta(t, 0.78/math.Sqrt(0.0147), metrics.Sharpe, 1e-9)
	assert.InDelta(t, 6.4333, metrics.Sharpe, 1e-4)
}

func TestMetrics_AnnualizedCovariance(t *testing.T) {
	calc := handCheckedCalculator(t)
	cov := calc.Covariance()

	assert.InDelta(t, 0.0019/3*252, cov[0][0], 1e-12)
	assert.InDelta(t, 0.0001*252, cov[1][1], 1e-12)
	assert.InDelta(t, -0.00025*252, cov[0][1], 1e-12)
	assert.Equal(t, cov[0][1], cov[1][0])

	means := calc.AnnualMeans()
	assert.InDelta(t, 0.02/3*252*100, means[0], 1e-9)
	assert.InDelta(t, 0.0, means[1], 1e-12)
}

func TestMetrics_Idempotent(t *testing.T) {
	calc := syntheticCalculator(t, 120, []float64{0.001, 0.0005, 0.0008}, []float64{0.02, 0.01, 0.015}, 7)
	weights := []float64{0.2, 0.5, 0.3}

	first, err := calc.Metrics(weights)
	require.NoError(t, err)
	second, err := calc.Metrics(weights)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMetrics_RiskNonNegative(t *testing.T) {
	calc := syntheticCalculator(t, 60, []float64{0.001, -0.0005, 0.0002}, []float64{0.02, 0.01, 0.03}, 11)

	cloud, err := SampleCloud(calc, 200, 3)
	require.NoError(t, err)
	for _, p := range cloud {
		assert.GreaterOrEqual(t, p.Metrics.Risk, 0.0)
		assert.False(t, math.IsNaN(p.Metrics.Sharpe))
	}
}

func TestMetrics_ConstantSeriesIsDegenerate(t *testing.T) {
	m, err := NewReturnMatrix(
		[]string{"A"},
		[]time.Time{day(1), day(2), day(3)},
		[][]float64{{0.01}, {0.01}, {0.01}},
	)
	require.NoError(t, err)
	calc, err := NewMetricsCalculator(m, DefaultRiskParams())
	require.NoError(t, err)

	_, err = calc.Metrics([]float64{1})
	require.Error(t, err)

	var degenerate *DegenerateRiskError
	require.True(t, errors.As(err, &degenerate), "expected DegenerateRiskError, got %T", err)
	assert.Equal(t, []float64{1}, degenerate.Weights)
	assert.Equal(t, KindDegenerateRisk, degenerate.Kind())
}

func TestMetrics_WeightLengthMismatch(t *testing.T) {
	calc := handCheckedCalculator(t)

	_, err := calc.Metrics([]float64{1})
	assert.Error(t, err)

	_, err = calc.Metrics([]float64{0.5, math.NaN()})
	assert.Error(t, err)
}

func TestNewMetricsCalculator_RequiresTwoRows(t *testing.T) {
	m, err := NewReturnMatrix([]string{"A", "B"}, []time.Time{day(1)}, [][]float64{{0.01, 0.02}})
	require.NoError(t, err)

	_, err = NewMetricsCalculator(m, DefaultRiskParams())
	var insufficient *InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestNewMetricsCalculator_CustomParams(t *testing.T) {
	m, err := NewReturnMatrix(
		[]string{"A", "B"},
		[]time.Time{day(1), day(2), day(3)},
		[][]float64{{0.01, 0}, {-0.02, 0.01}, {0.03, -0.01}},
	)
	require.NoError(t, err)

	calc, err := NewMetricsCalculator(m, RiskParams{TradingDays: 252, RiskFreeRate: 0})
	require.NoError(t, err)

	metrics, err := calc.Metrics([]float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.84/math.Sqrt(0.0147), metrics.Sharpe, 1e-9)

	_, err = NewMetricsCalculator(m, RiskParams{TradingDays: 0})
	assert.Error(t, err)
}

func TestRiskGradient_MatchesFiniteDifference(t *testing.T) {
	calc := syntheticCalculator(t, 80, []float64{0.001, 0.0004, 0.0007}, []float64{0.02, 0.012, 0.017}, 5)
	w := []float64{0.3, 0.45, 0.25}

	grad := make([]float64, 3)
	calc.riskGradient(grad, w)

	const h = 1e-6
	for i := range w {
		up := append([]float64(nil), w...)
		down := append([]float64(nil), w...)
		up[i] += h
		down[i] -= h
		numeric := (calc.Risk(up) - calc.Risk(down)) / (2 * h)
		assert.InDelta(t, numeric, grad[i], 1e-4, "component %d", i)
	}
}

// riskFreeCornerCalculator pairs a constant-return instrument with a volatile one
func riskFreeCornerCalculator(t *testing.T) *MetricsCalculator {
	t.Helper()
	noise := distuv.Normal{Mu: 0.0005, Sigma: 0.02, Src: rand.NewPCG(5, 0)}
	dates := make([]time.Time, 120)
	rows := make([][]float64, 120)
	for i := range rows {
		dates[i] = day(i)
		rows[i] = []float64{0.001, noise.Rand()}
	}
	m, err := NewReturnMatrix([]string{"A", "B"}, dates, rows)
	require.NoError(t, err)
	calc, err := NewMetricsCalculator(m, DefaultRiskParams())
	require.NoError(t, err)
	return calc
}

func TestMetrics_NegligibleRiskIsDegenerate(t *testing.T) {
	calc := riskFreeCornerCalculator(t)

	// A stray weight on the volatile instrument leaves only rounding-level risk
	_, err := calc.Metrics([]float64{1 - 2e-10, 2e-10})
	var degenerate *DegenerateRiskError
	assert.True(t, errors.As(err, &degenerate), "expected DegenerateRiskError, got %v", err)

	metrics, err := calc.Metrics([]float64{0.99, 0.01})
	require.NoError(t, err)
	assert.Greater(t, metrics.Risk, 0.0)
}
