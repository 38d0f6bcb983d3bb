package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestSoftmax_OnSimplex(t *testing.T) {
	tests := []struct {
		name string
		z    []float64
	}{
		{"zeros", []float64{0, 0, 0, 0}},
		{"mixed", []float64{-3, 0.5, 2, 1}},
		{"large logits", []float64{800, 799, -800}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := make([]float64, len(tt.z))
			softmax(w, tt.z)

			assert.InDelta(t, 1.0, floats.Sum(w), 1e-12)
			for _, v := range w {
				assert.False(t, math.IsNaN(v))
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
		})
	}

	w := make([]float64, 4)
	softmax(w, []float64{0, 0, 0, 0})
	assert.Equal(t, equalWeights(4), w)
}

func TestSoftmaxBackward_MatchesFiniteDifference(t *testing.T) {
	calc := syntheticCalculator(t, 80, []float64{0.001, 0.0004, 0.0007}, []float64{0.02, 0.012, 0.017}, 9)
	lag := newAugmentedLagrangian(sharpeObjective{calc: calc}, nil, initialPenalty)

	f := func(z []float64) float64 {
		w := make([]float64, len(z))
		softmax(w, z)
		return lag.value(w)
	}

	z := []float64{0.2, -0.4, 0.1}
	w := make([]float64, 3)
	softmax(w, z)
	gw := make([]float64, 3)
	lag.gradient(gw, w)
	gz := make([]float64, 3)
	softmaxBackward(gz, w, gw)

	const h = 1e-6
	for i := range z {
		up := append([]float64(nil), z...)
		down := append([]float64(nil), z...)
		up[i] += h
		down[i] -= h
		assert.InDelta(t, (f(up)-f(down))/(2*h), gz[i], 1e-5, "component %d", i)
	}
}

func TestAugmentedLagrangian_ReturnConstraint(t *testing.T) {
	calc := handCheckedCalculator(t)
	c := returnConstraint{calc: calc, target: 50}
	lag := newAugmentedLagrangian(riskObjective{calc: calc}, []equalityConstraint{c}, 10)

	w := []float64{0.5, 0.5}
	violation := calc.AnnualReturn(w) - 50
	assert.InDelta(t, math.Abs(violation), lag.violation(w), 1e-12)
	assert.InDelta(t, riskObjective{calc: calc}.value(w)+0.5*10*violation*violation, lag.value(w), 1e-9)

	lag.updateMultipliers(w)
	assert.InDelta(t, 10*violation, lag.multipliers[0], 1e-9)
}

func TestReturnConstraint_Feasible(t *testing.T) {
	calc := handCheckedCalculator(t) // annual means: 168% and 0%

	assert.True(t, returnConstraint{calc: calc, target: 0}.feasible())
	assert.True(t, returnConstraint{calc: calc, target: 100}.feasible())
	assert.False(t, returnConstraint{calc: calc, target: -1}.feasible())
	assert.False(t, returnConstraint{calc: calc, target: 200}.feasible())
}

func TestProjectToSimplex(t *testing.T) {
	w, err := projectToSimplex([]float64{0.5, 1e-14, 0.25, -1e-12, 2e-10})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, floats.Sum(w), 1e-12)
	assert.Equal(t, 0.0, w[1])
	assert.Equal(t, 0.0, w[3])
	assert.Equal(t, 0.0, w[4])
	assert.InDelta(t, 2.0/3.0, w[0], 1e-12)
}

func TestProjectToSimplex_NoFallbackToEqualWeights(t *testing.T) {
	w, err := projectToSimplex([]float64{0, 0})
	assert.Error(t, err)
	assert.Nil(t, w)

	_, err = projectToSimplex([]float64{math.NaN(), 1e-12})
	assert.Error(t, err)
}
