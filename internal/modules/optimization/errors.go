package optimization

import (
	"fmt"

	"gonum.org/v1/gonum/optimize"
)

// Error kinds reported to API clients
const (
	KindInsufficientData   = "insufficient_data"
	KindDegenerateRisk     = "degenerate_risk"
	KindOptimizationFailed = "optimization_failed"
	KindInvalidWeights     = "invalid_weights"
	KindInvalidRequest     = "invalid_request"
)

// InsufficientDataError is returned when fewer than two instruments have data
// or no date survives alignment.
type InsufficientDataError struct {
	Message string
	Err     error
}

func (e *InsufficientDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("insufficient data: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("insufficient data: %s", e.Message)
}

func (e *InsufficientDataError) Unwrap() error {
	return e.Err
}

// Kind returns the API error kind
func (e *InsufficientDataError) Kind() string { return KindInsufficientData }

// DegenerateRiskError is returned when a weight combination has zero
// volatility, which leaves the Sharpe ratio undefined.
type DegenerateRiskError struct {
	Weights []float64
}

func (e *DegenerateRiskError) Error() string {
	return fmt.Sprintf("degenerate risk: portfolio volatility is zero for weights %v, sharpe ratio undefined", e.Weights)
}

// Kind returns the API error kind
func (e *DegenerateRiskError) Kind() string { return KindDegenerateRisk }

// OptimizationFailedError is returned when the solver does not converge for
// a named objective.
type OptimizationFailedError struct {
	Objective Objective
	Status    optimize.Status
	Message   string
	Err       error
}

func (e *OptimizationFailedError) Error() string {
	msg := fmt.Sprintf("optimization failed for %s", e.Objective)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != optimize.NotTerminated {
		msg += fmt.Sprintf(" (status=%v)", e.Status)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *OptimizationFailedError) Unwrap() error {
	return e.Err
}

// Kind returns the API error kind
func (e *OptimizationFailedError) Kind() string { return KindOptimizationFailed }

// InvalidWeightsError is returned for custom weights that are negative or
// sum to zero.
type InvalidWeightsError struct {
	Message string
}

func (e *InvalidWeightsError) Error() string {
	return fmt.Sprintf("invalid weights: %s", e.Message)
}

// Kind returns the API error kind
func (e *InvalidWeightsError) Kind() string { return KindInvalidWeights }

// ValidationError is returned for malformed analysis requests: unknown
// symbols, unknown strategies or inverted date ranges.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// Kind returns the API error kind
func (e *ValidationError) Kind() string { return KindInvalidRequest }
