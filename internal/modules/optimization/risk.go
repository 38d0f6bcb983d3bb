package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/frontier/pkg/formulas"
)

// Defaults for annualization and excess return
const (
	DefaultTradingDays  = 252  // trading days per year
	DefaultRiskFreeRate = 0.06 // 6% annual
)

// A portfolio is treated as riskless when its annualized volatility (in
// percent) is at or below degenerateRiskTolerance, or below
// relativeRiskTolerance times the most volatile instrument's volatility.
const (
	degenerateRiskTolerance = 1e-10
	relativeRiskTolerance   = 1e-8
)

// RiskParams configures annualization and the Sharpe ratio baseline
type RiskParams struct {
	TradingDays  float64
	RiskFreeRate float64 // annual, as a fraction (0.06 = 6%)
}

// DefaultRiskParams returns the reference configuration
func DefaultRiskParams() RiskParams {
	return RiskParams{
		TradingDays:  DefaultTradingDays,
		RiskFreeRate: DefaultRiskFreeRate,
	}
}

// MetricsCalculator computes annualized return, risk and Sharpe ratio for
// weight vectors over a fixed return matrix. It is immutable once built and
// safe for concurrent use.
type MetricsCalculator struct {
	params     RiskParams
	symbols    []string
	meanDaily  []float64
	annualMean []float64     // mean daily return × trading days × 100
	cov        *mat.SymDense // sample covariance × trading days
	riskFloor  float64       // volatility treated as zero, in percent
}

// NewMetricsCalculator precomputes column means and the annualized sample
// covariance of m.
func NewMetricsCalculator(m *ReturnMatrix, params RiskParams) (*MetricsCalculator, error) {
	if m == nil || m.Cols() == 0 {
		return nil, &InsufficientDataError{Message: "empty return matrix"}
	}
	if m.Rows() < 2 {
		return nil, &InsufficientDataError{
			Message: fmt.Sprintf("need at least 2 aligned dates for sample covariance, have %d", m.Rows()),
		}
	}
	if params.TradingDays <= 0 {
		return nil, fmt.Errorf("trading days must be positive, got %v", params.TradingDays)
	}

	n := m.Cols()
	meanDaily := make([]float64, n)
	annualMean := make([]float64, n)
	for j := 0; j < n; j++ {
		meanDaily[j] = stat.Mean(m.Column(j), nil)
		annualMean[j] = meanDaily[j] * params.TradingDays * 100
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, m.Matrix(), nil)
	cov.ScaleSym(params.TradingDays, &cov)

	var maxVol float64
	for j := 0; j < n; j++ {
		maxVol = math.Max(maxVol, math.Sqrt(math.Max(cov.At(j, j), 0))*100)
	}

	return &MetricsCalculator{
		params:     params,
		symbols:    m.Symbols(),
		meanDaily:  meanDaily,
		annualMean: annualMean,
		cov:        &cov,
		riskFloor:  math.Max(degenerateRiskTolerance, relativeRiskTolerance*maxVol),
	}, nil
}

// Dim returns the number of instruments
func (c *MetricsCalculator) Dim() int {
	return len(c.meanDaily)
}

// Symbols returns the instrument order the weights refer to
func (c *MetricsCalculator) Symbols() []string {
	return append([]string(nil), c.symbols...)
}

// Params returns the annualization parameters
func (c *MetricsCalculator) Params() RiskParams {
	return c.params
}

// AnnualMeans returns each instrument's annualized mean return in percent
func (c *MetricsCalculator) AnnualMeans() []float64 {
	return append([]float64(nil), c.annualMean...)
}

// Covariance returns a copy of the annualized covariance matrix
func (c *MetricsCalculator) Covariance() [][]float64 {
	n := c.Dim()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = c.cov.At(i, j)
		}
	}
	return out
}

// AnnualReturn returns sum(mean_i × w_i) × trading days, in percent
func (c *MetricsCalculator) AnnualReturn(weights []float64) float64 {
	var r float64
	for i, w := range weights {
		r += c.meanDaily[i] * w
	}
	return r * c.params.TradingDays * 100
}

// Variance returns wᵀΣw with Σ annualized
func (c *MetricsCalculator) Variance(weights []float64) float64 {
	w := mat.NewVecDense(len(weights), weights)
	return mat.Inner(w, c.cov, w)
}

// Risk returns annualized volatility in percent
func (c *MetricsCalculator) Risk(weights []float64) float64 {
	return math.Sqrt(math.Max(c.Variance(weights), 0)) * 100
}

// Metrics computes return, risk and Sharpe ratio for weights.
// Returns DegenerateRiskError when the volatility is zero.
func (c *MetricsCalculator) Metrics(weights []float64) (PortfolioMetrics, error) {
	if len(weights) != c.Dim() {
		return PortfolioMetrics{}, fmt.Errorf("got %d weights for %d instruments", len(weights), c.Dim())
	}
	for i, w := range weights {
		if !formulas.IsFinite(w) {
			return PortfolioMetrics{}, fmt.Errorf("weight %d is not finite", i)
		}
	}

	annualReturn := c.AnnualReturn(weights)
	annualRisk := c.Risk(weights)
	if annualRisk <= c.riskFloor {
		return PortfolioMetrics{}, &DegenerateRiskError{Weights: append([]float64(nil), weights...)}
	}

	return PortfolioMetrics{
		Return: annualReturn,
		Risk:   annualRisk,
		Sharpe: c.sharpe(annualReturn, annualRisk),
	}, nil
}

func (c *MetricsCalculator) sharpe(annualReturn, annualRisk float64) float64 {
	return (annualReturn/100 - c.params.RiskFreeRate) / (annualRisk / 100)
}

// returnGradient writes ∂AnnualReturn/∂w into grad
func (c *MetricsCalculator) returnGradient(grad []float64) {
	copy(grad, c.annualMean)
}

// riskGradient writes ∂Risk/∂w into grad: 100 × Σw / sqrt(wᵀΣw)
func (c *MetricsCalculator) riskGradient(grad, weights []float64) {
	variance := c.Variance(weights)
	if variance <= 0 {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	sd := math.Sqrt(variance)

	var sigmaW mat.VecDense
	sigmaW.MulVec(c.cov, mat.NewVecDense(len(weights), weights))
	for i := range grad {
		grad[i] = 100 * sigmaW.AtVec(i) / sd
	}
}
