// Package optimization provides portfolio optimization functionality.
package optimization

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Weights live on the simplex (sum to 1, each in [0, 1]). The solver works on
// unconstrained logits z with w = softmax(z), so both bounds and the budget
// constraint hold at every iterate. Remaining equality constraints (a frontier
// target return) are handled with an augmented Lagrangian.

const (
	// varianceFloor keeps sqrt(wᵀΣw) differentiable near zero
	varianceFloor = 1e-10
	// weightCutoff zeroes weights the softmax can only approach asymptotically
	weightCutoff = 1e-8
)

// objectiveFunc is a smooth function of the weights to minimize
type objectiveFunc interface {
	value(w []float64) float64
	gradient(grad, w []float64)
}

// equalityConstraint is c(w) = 0
type equalityConstraint interface {
	value(w []float64) float64
	gradient(grad, w []float64)
}

// riskObjective is annualized volatility in percent
type riskObjective struct {
	calc *MetricsCalculator
}

func (o riskObjective) value(w []float64) float64 {
	return math.Sqrt(math.Max(o.calc.Variance(w), varianceFloor)) * 100
}

func (o riskObjective) gradient(grad, w []float64) {
	o.calc.riskGradient(grad, w)
}

// sharpeObjective is the negated Sharpe ratio
type sharpeObjective struct {
	calc *MetricsCalculator
}

func (o sharpeObjective) value(w []float64) float64 {
	risk := math.Sqrt(math.Max(o.calc.Variance(w), varianceFloor)) * 100
	return -o.calc.sharpe(o.calc.AnnualReturn(w), risk)
}

// ∂Sharpe/∂w = (a·S − (R − 100·rf)·∂S/∂w) / S², with a the annual mean vector
func (o sharpeObjective) gradient(grad, w []float64) {
	n := len(w)
	riskGrad := make([]float64, n)
	o.calc.riskGradient(riskGrad, w)

	risk := math.Sqrt(math.Max(o.calc.Variance(w), varianceFloor)) * 100
	excess := o.calc.AnnualReturn(w) - 100*o.calc.params.RiskFreeRate

	for i := 0; i < n; i++ {
		dSharpe := (o.calc.annualMean[i]*risk - excess*riskGrad[i]) / (risk * risk)
		grad[i] = -dSharpe
	}
}

// returnConstraint pins the annual return (percent) to target
type returnConstraint struct {
	calc   *MetricsCalculator
	target float64
}

func (c returnConstraint) value(w []float64) float64 {
	return c.calc.AnnualReturn(w) - c.target
}

func (c returnConstraint) gradient(grad, w []float64) {
	c.calc.returnGradient(grad)
}

// feasible reports whether some simplex point reaches the target. Annual
// return is linear in w, so the reachable range is [min aᵢ, max aᵢ].
func (c returnConstraint) feasible() bool {
	return c.target >= floats.Min(c.calc.annualMean) && c.target <= floats.Max(c.calc.annualMean)
}

// augmentedLagrangian is f(w) + Σ λᵢcᵢ(w) + (μ/2) Σ cᵢ(w)²
type augmentedLagrangian struct {
	objective   objectiveFunc
	constraints []equalityConstraint
	multipliers []float64
	penalty     float64
}

func newAugmentedLagrangian(objective objectiveFunc, constraints []equalityConstraint, penalty float64) *augmentedLagrangian {
	return &augmentedLagrangian{
		objective:   objective,
		constraints: constraints,
		multipliers: make([]float64, len(constraints)),
		penalty:     penalty,
	}
}

func (l *augmentedLagrangian) value(w []float64) float64 {
	f := l.objective.value(w)
	for i, c := range l.constraints {
		v := c.value(w)
		f += l.multipliers[i]*v + 0.5*l.penalty*v*v
	}
	return f
}

func (l *augmentedLagrangian) gradient(grad, w []float64) {
	l.objective.gradient(grad, w)
	if len(l.constraints) == 0 {
		return
	}
	cGrad := make([]float64, len(w))
	for i, c := range l.constraints {
		v := c.value(w)
		c.gradient(cGrad, w)
		floats.AddScaled(grad, l.multipliers[i]+l.penalty*v, cGrad)
	}
}

// violation returns max |cᵢ(w)|
func (l *augmentedLagrangian) violation(w []float64) float64 {
	var worst float64
	for _, c := range l.constraints {
		worst = math.Max(worst, math.Abs(c.value(w)))
	}
	return worst
}

// updateMultipliers applies λᵢ += μ·cᵢ(w)
func (l *augmentedLagrangian) updateMultipliers(w []float64) {
	for i, c := range l.constraints {
		l.multipliers[i] += l.penalty * c.value(w)
	}
}

// problem maps l onto logits. ctx cancellation terminates the solve.
func (l *augmentedLagrangian) problem(ctx context.Context) optimize.Problem {
	return optimize.Problem{
		Func: func(z []float64) float64 {
			w := make([]float64, len(z))
			softmax(w, z)
			return l.value(w)
		},
		Grad: func(grad, z []float64) {
			w := make([]float64, len(z))
			softmax(w, z)
			gw := make([]float64, len(z))
			l.gradient(gw, w)
			softmaxBackward(grad, w, gw)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
}

// softmax writes exp(zᵢ)/Σexp(z) into w
func softmax(w, z []float64) {
	shift := floats.Max(z)
	var sum float64
	for i, v := range z {
		w[i] = math.Exp(v - shift)
		sum += w[i]
	}
	floats.Scale(1/sum, w)
}

// softmaxBackward maps ∂f/∂w to ∂f/∂z: wⱼ(gⱼ − g·w)
func softmaxBackward(dst, w, g []float64) {
	dot := floats.Dot(g, w)
	for j := range dst {
		dst[j] = w[j] * (g[j] - dot)
	}
}

// projectToSimplex clips and renormalizes a solver output so the weights sum
// to exactly 1 with no negative or vanishing entries. An output with nothing
// left after clipping is an error.
func projectToSimplex(w []float64) ([]float64, error) {
	out := make([]float64, len(w))
	for i, v := range w {
		if v > weightCutoff {
			out[i] = v
		}
	}
	sum := floats.Sum(out)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("solver weights do not form a portfolio (sum %g)", sum)
	}
	floats.Scale(1/sum, out)
	return out, nil
}

// equalWeights returns the 1/N vector
func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
