package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Solver defaults
const (
	DefaultMaxIterations      = 1000
	DefaultMaxOuterIterations = 30

	gradientThreshold   = 1e-8
	constraintTolerance = 1e-6 // percentage points of annual return
	initialPenalty      = 10.0
	maxPenalty          = 1e8
)

// Settings bounds the work done by one optimization
type Settings struct {
	// MaxIterations caps major iterations of each inner solve
	MaxIterations int
	// MaxOuterIterations caps augmented Lagrangian rounds for equality constraints
	MaxOuterIterations int
	// Timeout is the wall-clock budget of each inner solve. Zero means none.
	Timeout time.Duration
}

// DefaultSettings returns the solver defaults
func DefaultSettings() Settings {
	return Settings{
		MaxIterations:      DefaultMaxIterations,
		MaxOuterIterations: DefaultMaxOuterIterations,
	}
}

// MVOptimizer performs mean-variance portfolio optimization over long-only,
// fully invested portfolios.
type MVOptimizer struct {
	settings Settings
	log      zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(settings Settings, log zerolog.Logger) *MVOptimizer {
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = DefaultMaxIterations
	}
	if settings.MaxOuterIterations <= 0 {
		settings.MaxOuterIterations = DefaultMaxOuterIterations
	}
	return &MVOptimizer{
		settings: settings,
		log:      log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// Optimize returns the weights extremizing objective subject to Σw = 1 and
// 0 ≤ wᵢ ≤ 1, starting from equal weights.
//
// Objectives:
//   - max_sharpe: minimize −(R/100 − r_f)/(S/100)
//   - min_risk: minimize S = 100·sqrt(wᵀΣw)
//
// Any failure to converge is returned as *OptimizationFailedError; no
// fallback weights are substituted.
func (mvo *MVOptimizer) Optimize(ctx context.Context, calc *MetricsCalculator, objective Objective) ([]float64, error) {
	switch objective {
	case ObjectiveMaxSharpe:
		return mvo.solve(ctx, objective, calc.Dim(), sharpeObjective{calc: calc}, nil)
	case ObjectiveMinRisk:
		return mvo.solve(ctx, objective, calc.Dim(), riskObjective{calc: calc}, nil)
	default:
		return nil, fmt.Errorf("unknown objective: %s", objective)
	}
}

// OptimizeForReturn minimizes risk subject to the simplex constraints and an
// annual return (percent) equal to target.
func (mvo *MVOptimizer) OptimizeForReturn(ctx context.Context, calc *MetricsCalculator, target float64) ([]float64, error) {
	constraint := returnConstraint{calc: calc, target: target}
	if !constraint.feasible() {
		return nil, &OptimizationFailedError{
			Objective: ObjectiveFrontierPoint,
			Message: fmt.Sprintf("target return %.4f%% outside attainable range [%.4f%%, %.4f%%]",
				target, floats.Min(calc.annualMean), floats.Max(calc.annualMean)),
		}
	}
	return mvo.solve(ctx, ObjectiveFrontierPoint, calc.Dim(), riskObjective{calc: calc}, []equalityConstraint{constraint})
}

func (mvo *MVOptimizer) solve(
	ctx context.Context,
	name Objective,
	n int,
	objective objectiveFunc,
	constraints []equalityConstraint,
) ([]float64, error) {
	if n == 0 {
		return nil, fmt.Errorf("no instruments to optimize")
	}
	if err := ctx.Err(); err != nil {
		return nil, &OptimizationFailedError{Objective: name, Message: "cancelled before start", Err: err}
	}

	lag := newAugmentedLagrangian(objective, constraints, initialPenalty)
	z := make([]float64, n) // softmax(0) = 1/N
	w := make([]float64, n)

	if len(constraints) == 0 {
		x, err := mvo.minimize(ctx, name, lag, z)
		if err != nil {
			return nil, err
		}
		softmax(w, x)
		return mvo.project(name, w)
	}

	prevViolation := math.Inf(1)
	var violation float64
	for outer := 0; outer < mvo.settings.MaxOuterIterations; outer++ {
		x, err := mvo.minimize(ctx, name, lag, z)
		if err != nil {
			return nil, err
		}
		z = x
		softmax(w, z)

		violation = lag.violation(w)
		if violation <= constraintTolerance {
			mvo.log.Debug().
				Str("objective", string(name)).
				Int("outer_iterations", outer+1).
				Float64("violation", violation).
				Msg("Constrained optimization converged")
			return mvo.project(name, w)
		}

		lag.updateMultipliers(w)
		if violation > 0.25*prevViolation {
			lag.penalty = math.Min(lag.penalty*10, maxPenalty)
		}
		prevViolation = violation
	}

	return nil, &OptimizationFailedError{
		Objective: name,
		Status:    optimize.IterationLimit,
		Message: fmt.Sprintf("equality constraint still violated by %.3g after %d outer iterations",
			violation, mvo.settings.MaxOuterIterations),
	}
}

// minimize runs BFGS from x0 and falls back to Nelder-Mead, started from the
// best BFGS location, when BFGS fails or stops without converging.
func (mvo *MVOptimizer) minimize(ctx context.Context, name Objective, lag *augmentedLagrangian, x0 []float64) ([]float64, error) {
	problem := lag.problem(ctx)

	result, err := optimize.Minimize(problem, x0, mvo.optimizeSettings(), &optimize.BFGS{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &OptimizationFailedError{Objective: name, Status: optimize.Failure, Message: "cancelled", Err: ctxErr}
	}
	if err == nil && converged(result.Status) {
		return result.X, nil
	}

	start := x0
	if result != nil && usable(result.Location) {
		start = result.X
	}
	ev := mvo.log.Debug().Str("objective", string(name))
	if result != nil {
		ev = ev.Str("status", result.Status.String())
	}
	ev.Err(err).Msg("BFGS did not converge, falling back to Nelder-Mead")

	result, err = optimize.Minimize(problem, start, mvo.optimizeSettings(), &optimize.NelderMead{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &OptimizationFailedError{Objective: name, Status: optimize.Failure, Message: "cancelled", Err: ctxErr}
	}
	if err != nil {
		status := optimize.Failure
		if result != nil {
			status = result.Status
		}
		return nil, &OptimizationFailedError{Objective: name, Status: status, Message: "solver error", Err: err}
	}
	if !converged(result.Status) {
		return nil, &OptimizationFailedError{Objective: name, Status: result.Status, Message: "did not converge"}
	}
	return result.X, nil
}

// project snaps solver weights onto the simplex. No substitute portfolio is
// returned when that fails.
func (mvo *MVOptimizer) project(name Objective, w []float64) ([]float64, error) {
	weights, err := projectToSimplex(w)
	if err != nil {
		return nil, &OptimizationFailedError{Objective: name, Status: optimize.Failure, Message: "invalid solver output", Err: err}
	}
	return weights, nil
}

func (mvo *MVOptimizer) optimizeSettings() *optimize.Settings {
	return &optimize.Settings{
		GradientThreshold: gradientThreshold,
		MajorIterations:   mvo.settings.MaxIterations,
		Runtime:           mvo.settings.Timeout,
	}
}

// converged accepts the statuses that indicate a local minimum was reached
func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success,
		optimize.GradientThreshold,
		optimize.FunctionConvergence,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}

func usable(loc optimize.Location) bool {
	if math.IsNaN(loc.F) || math.IsInf(loc.F, 0) {
		return false
	}
	for _, v := range loc.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
