package optimization

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// FrontierGenerator produces the random portfolio cloud, the max-Sharpe and
// min-risk anchors, and the efficient frontier curve for one metrics
// calculator.
type FrontierGenerator struct {
	optimizer *MVOptimizer
	pool      *WorkerPool
	log       zerolog.Logger
}

// NewFrontierGenerator creates a new frontier generator.
func NewFrontierGenerator(optimizer *MVOptimizer, pool *WorkerPool, log zerolog.Logger) *FrontierGenerator {
	return &FrontierGenerator{
		optimizer: optimizer,
		pool:      pool,
		log:       log.With().Str("component", "frontier").Logger(),
	}
}

// Generate builds the cloud, both anchors and the curve.
//
// Anchor failures are reported on the anchor itself and do not abort the
// result. Curve targets that cannot be solved come back with a nil risk.
// A degenerate cloud sample is returned as an error.
func (g *FrontierGenerator) Generate(ctx context.Context, calc *MetricsCalculator, opts FrontierOptions) (*FrontierResult, error) {
	if opts.SamplePortfolios < 1 {
		return nil, fmt.Errorf("sample portfolios must be at least 1, got %d", opts.SamplePortfolios)
	}
	if opts.CurvePoints < 0 {
		return nil, fmt.Errorf("curve points must not be negative, got %d", opts.CurvePoints)
	}

	cloud, err := SampleCloud(calc, opts.SamplePortfolios, opts.Seed)
	if err != nil {
		return nil, err
	}

	result := &FrontierResult{
		Cloud:     cloud,
		MaxSharpe: g.anchor(ctx, calc, ObjectiveMaxSharpe),
		MinRisk:   g.anchor(ctx, calc, ObjectiveMinRisk),
	}

	returns := make([]float64, len(cloud))
	for i, p := range cloud {
		returns[i] = p.Metrics.Return
	}
	targets := curveTargets(floats.Min(returns), floats.Max(returns), opts.CurvePoints)

	result.Curve = g.pool.SolveTargets(ctx, targets, func(ctx context.Context, target float64) ([]float64, float64, error) {
		weights, err := g.optimizer.OptimizeForReturn(ctx, calc, target)
		if err != nil {
			g.log.Debug().Err(err).Float64("target", target).Msg("Frontier point infeasible")
			return nil, 0, err
		}
		return weights, calc.Risk(weights), nil
	})

	feasible := 0
	for _, p := range result.Curve {
		if p.Feasible() {
			feasible++
		}
	}
	g.log.Info().
		Int("samples", len(cloud)).
		Int("curve_points", len(result.Curve)).
		Int("feasible_points", feasible).
		Bool("max_sharpe_ok", result.MaxSharpe.OK()).
		Bool("min_risk_ok", result.MinRisk.OK()).
		Msg("Efficient frontier generated")

	return result, nil
}

func (g *FrontierGenerator) anchor(ctx context.Context, calc *MetricsCalculator, objective Objective) AnchorPortfolio {
	a := AnchorPortfolio{Objective: objective}

	weights, err := g.optimizer.Optimize(ctx, calc, objective)
	if err != nil {
		g.log.Warn().Err(err).Str("objective", string(objective)).Msg("Anchor optimization failed")
		a.Err = err
		return a
	}
	metrics, err := calc.Metrics(weights)
	if err != nil {
		a.Err = err
		return a
	}
	a.Portfolio = &WeightedPortfolio{Weights: weights, Metrics: metrics}
	return a
}

// SampleCloud draws n random long-only portfolios. Each weight is an
// independent Uniform[0,1) draw and the vector is normalized to sum to 1,
// which is not uniform over the simplex and biases samples toward its
// centre. The same seed always yields the same cloud.
func SampleCloud(calc *MetricsCalculator, n int, seed uint64) ([]WeightedPortfolio, error) {
	dist := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(seed, 0)}
	dim := calc.Dim()

	cloud := make([]WeightedPortfolio, 0, n)
	for len(cloud) < n {
		weights := make([]float64, dim)
		for j := range weights {
			weights[j] = dist.Rand()
		}
		sum := floats.Sum(weights)
		if sum == 0 {
			continue
		}
		floats.Scale(1/sum, weights)

		metrics, err := calc.Metrics(weights)
		if err != nil {
			return nil, err
		}
		cloud = append(cloud, WeightedPortfolio{Weights: weights, Metrics: metrics})
	}
	return cloud, nil
}

// curveTargets returns n returns evenly spaced over [lo, hi], ascending
func curveTargets(lo, hi float64, n int) []float64 {
	switch n {
	case 0:
		return []float64{}
	case 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}
