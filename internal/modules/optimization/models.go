package optimization

import "time"

// Objective is the quantity the constrained optimizer extremizes.
type Objective string

const (
	// ObjectiveMaxSharpe maximizes the Sharpe ratio (minimizes its negative)
	ObjectiveMaxSharpe Objective = "max_sharpe"
	// ObjectiveMinRisk minimizes annualized volatility
	ObjectiveMinRisk Objective = "min_risk"
	// ObjectiveFrontierPoint minimizes volatility at a fixed target return
	ObjectiveFrontierPoint Objective = "frontier_point"
)

// Strategy selects how the analyzed portfolio's weights are chosen.
type Strategy string

const (
	StrategyEqualWeight Strategy = "equal"
	StrategyMaxSharpe   Strategy = "max_sharpe"
	StrategyMinRisk     Strategy = "min_risk"
	StrategyCustom      Strategy = "custom"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyEqualWeight, StrategyMaxSharpe, StrategyMinRisk, StrategyCustom:
		return true
	}
	return false
}

// PricePoint is a single daily close
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is the ordered close history of one instrument
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// PortfolioMetrics holds annualized portfolio statistics.
// Return and Risk are percentages; Sharpe is a plain ratio.
type PortfolioMetrics struct {
	Return float64 `json:"return" msgpack:"return"`
	Risk   float64 `json:"risk" msgpack:"risk"`
	Sharpe float64 `json:"sharpe" msgpack:"sharpe"`
}

// WeightedPortfolio is a weight vector with its metrics
type WeightedPortfolio struct {
	Weights []float64        `json:"weights" msgpack:"weights"`
	Metrics PortfolioMetrics `json:"metrics" msgpack:"metrics"`
}

// AnchorPortfolio is one of the two named optimal portfolios of a frontier.
// Exactly one of Portfolio and Err is set.
type AnchorPortfolio struct {
	Objective Objective
	Portfolio *WeightedPortfolio
	Err       error
}

// OK reports whether the anchor was solved
func (a AnchorPortfolio) OK() bool {
	return a.Err == nil && a.Portfolio != nil
}

// FrontierPoint is the minimum risk found for one target return.
// Risk and Weights are nil when the target could not be reached.
type FrontierPoint struct {
	TargetReturn float64   `json:"target_return" msgpack:"target_return"`
	Risk         *float64  `json:"risk" msgpack:"risk"`
	Weights      []float64 `json:"weights,omitempty" msgpack:"weights,omitempty"`
}

// Feasible reports whether a solution was found for the point
func (p FrontierPoint) Feasible() bool {
	return p.Risk != nil
}

// FrontierOptions controls frontier generation
type FrontierOptions struct {
	SamplePortfolios int
	CurvePoints      int
	Seed             uint64
}

// DefaultFrontierOptions returns the reference sampling parameters
func DefaultFrontierOptions() FrontierOptions {
	return FrontierOptions{
		SamplePortfolios: 1000,
		CurvePoints:      50,
		Seed:             42,
	}
}

// FrontierResult is the random cloud, the two anchors and the frontier curve.
type FrontierResult struct {
	Cloud     []WeightedPortfolio
	MaxSharpe AnchorPortfolio
	MinRisk   AnchorPortfolio
	Curve     []FrontierPoint
}
