package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/frontier/internal/utils"
)

// ServiceConfig holds the analysis parameters fixed at startup
type ServiceConfig struct {
	Risk     RiskParams
	Frontier FrontierOptions
	// HistoryStart is the default start of the price window
	HistoryStart time.Time
}

// AnalysisRequest selects instruments and a weighting strategy.
// Zero From/To default to the configured history start and now.
type AnalysisRequest struct {
	Symbols  []string
	Strategy Strategy
	Weights  map[string]float64 // custom strategy only
	From     time.Time
	To       time.Time
}

// AnchorSection reports one optimal portfolio or why it is missing
type AnchorSection struct {
	Success bool               `json:"success" msgpack:"success"`
	Error   string             `json:"error,omitempty" msgpack:"error,omitempty"`
	Weights map[string]float64 `json:"weights,omitempty" msgpack:"weights,omitempty"`
	Metrics *PortfolioMetrics  `json:"metrics,omitempty" msgpack:"metrics,omitempty"`
}

// CloudSection holds the random portfolios as parallel arrays
type CloudSection struct {
	Returns []float64 `json:"returns" msgpack:"returns"`
	Risks   []float64 `json:"risks" msgpack:"risks"`
	Sharpes []float64 `json:"sharpes" msgpack:"sharpes"`
}

// CurveSection holds the frontier as parallel arrays. A nil risk marks a
// target return that could not be reached.
type CurveSection struct {
	Returns []float64  `json:"returns" msgpack:"returns"`
	Risks   []*float64 `json:"risks" msgpack:"risks"`
}

// AnalysisResponse is the result of one analysis
type AnalysisResponse struct {
	ID           string             `json:"id" msgpack:"id"`
	Symbols      []string           `json:"symbols" msgpack:"symbols"`
	Strategy     Strategy           `json:"strategy" msgpack:"strategy"`
	Weights      map[string]float64 `json:"weights" msgpack:"weights"`
	Metrics      PortfolioMetrics   `json:"metrics" msgpack:"metrics"`
	MaxSharpe    AnchorSection      `json:"max_sharpe" msgpack:"max_sharpe"`
	MinRisk      AnchorSection      `json:"min_risk" msgpack:"min_risk"`
	Cloud        CloudSection       `json:"cloud" msgpack:"cloud"`
	Curve        CurveSection       `json:"curve" msgpack:"curve"`
	Observations int                `json:"observations" msgpack:"observations"`
	StartDate    string             `json:"start_date" msgpack:"start_date"`
	EndDate      string             `json:"end_date" msgpack:"end_date"`
}

// PerformanceRequest selects instruments for a standalone performance
// report. No symbols means every configured instrument.
type PerformanceRequest struct {
	Symbols []string
	From    time.Time
	To      time.Time
}

// InstrumentPerformance is one instrument held on its own. Metrics is nil and
// Error set when its history cannot be scored.
type InstrumentPerformance struct {
	Symbol       string            `json:"symbol" msgpack:"symbol"`
	Metrics      *PortfolioMetrics `json:"metrics,omitempty" msgpack:"metrics,omitempty"`
	Error        string            `json:"error,omitempty" msgpack:"error,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty" msgpack:"error_kind,omitempty"`
	Observations int               `json:"observations" msgpack:"observations"`
}

// PerformanceResponse lists instruments in request (or catalog) order
type PerformanceResponse struct {
	Instruments []InstrumentPerformance `json:"instruments" msgpack:"instruments"`
	StartDate   string                  `json:"start_date" msgpack:"start_date"`
	EndDate     string                  `json:"end_date" msgpack:"end_date"`
}

// Service runs portfolio analyses: it loads prices, builds the return
// matrix and metrics, chooses the strategy weights and generates the
// efficient frontier.
type Service struct {
	source   PriceSource
	catalog  InstrumentCatalog
	frontier *FrontierGenerator
	cfg      ServiceConfig
	log      zerolog.Logger
}

// NewService creates a new analysis service.
func NewService(
	source PriceSource,
	catalog InstrumentCatalog,
	frontier *FrontierGenerator,
	cfg ServiceConfig,
	log zerolog.Logger,
) *Service {
	return &Service{
		source:   source,
		catalog:  catalog,
		frontier: frontier,
		cfg:      cfg,
		log:      log.With().Str("component", "optimizer_service").Logger(),
	}
}

// Analyze runs a full analysis. Every failure except an unreachable curve
// point or a failed anchor that was not the selected strategy aborts the
// analysis with a typed error.
func (s *Service) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	symbols, err := s.validateSelection(req)
	if err != nil {
		return nil, err
	}

	var custom []float64
	if req.Strategy == StrategyCustom {
		custom, err = NormalizeCustomWeights(symbols, req.Weights)
		if err != nil {
			return nil, err
		}
	}

	from, to, err := s.window(req.From, req.To)
	if err != nil {
		return nil, err
	}

	series, err := s.loadSeries(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}

	matrix, err := BuildReturnMatrix(series)
	if err != nil {
		return nil, err
	}

	calc, err := NewMetricsCalculator(matrix, s.cfg.Risk)
	if err != nil {
		return nil, err
	}

	// Optimized strategies reuse the frontier's anchors, so only the fixed
	// strategies are scored up front.
	var weights []float64
	var metrics PortfolioMetrics
	switch req.Strategy {
	case StrategyEqualWeight:
		weights = equalWeights(len(symbols))
	case StrategyCustom:
		weights = custom
	}
	if weights != nil {
		if metrics, err = calc.Metrics(weights); err != nil {
			return nil, err
		}
	}

	timer := utils.NewTimer("frontier_generation", s.log)
	frontier, err := s.frontier.Generate(ctx, calc, s.cfg.Frontier)
	elapsed := timer.Stop()
	if err != nil {
		return nil, err
	}

	switch req.Strategy {
	case StrategyMaxSharpe:
		weights, metrics, err = selectedAnchor(frontier.MaxSharpe)
	case StrategyMinRisk:
		weights, metrics, err = selectedAnchor(frontier.MinRisk)
	}
	if err != nil {
		return nil, err
	}

	dates := matrix.Dates()
	resp := &AnalysisResponse{
		ID:           uuid.New().String(),
		Symbols:      symbols,
		Strategy:     req.Strategy,
		Weights:      weightsBySymbol(symbols, weights),
		Metrics:      metrics,
		MaxSharpe:    anchorSection(symbols, frontier.MaxSharpe),
		MinRisk:      anchorSection(symbols, frontier.MinRisk),
		Cloud:        cloudSection(frontier.Cloud),
		Curve:        curveSection(frontier.Curve),
		Observations: matrix.Rows(),
		StartDate:    dates[0].Format(dateLayout),
		EndDate:      dates[len(dates)-1].Format(dateLayout),
	}

	s.log.Info().
		Str("analysis_id", resp.ID).
		Strs("symbols", symbols).
		Str("strategy", string(req.Strategy)).
		Int("observations", resp.Observations).
		Float64("return", metrics.Return).
		Float64("risk", metrics.Risk).
		Float64("sharpe", metrics.Sharpe).
		Dur("frontier_duration", elapsed).
		Msg("Portfolio analysis complete")

	return resp, nil
}

// InstrumentPerformance reports annualized return, risk and Sharpe ratio of
// each instrument over its own return history. An instrument with too little
// data or no volatility is reported with its error; a price loading failure
// aborts the report.
func (s *Service) InstrumentPerformance(ctx context.Context, req PerformanceRequest) (*PerformanceResponse, error) {
	symbols, err := s.performanceSymbols(req.Symbols)
	if err != nil {
		return nil, err
	}

	from, to, err := s.window(req.From, req.To)
	if err != nil {
		return nil, err
	}

	series, err := s.loadSeries(ctx, symbols, from, to)
	if err != nil {
		return nil, err
	}

	resp := &PerformanceResponse{
		Instruments: make([]InstrumentPerformance, len(series)),
		StartDate:   from.Format(dateLayout),
		EndDate:     to.Format(dateLayout),
	}
	for i, ps := range series {
		resp.Instruments[i] = s.instrumentPerformance(ps)
	}

	s.log.Debug().Strs("symbols", symbols).Msg("Instrument performance computed")
	return resp, nil
}

func (s *Service) instrumentPerformance(ps PriceSeries) InstrumentPerformance {
	perf := InstrumentPerformance{Symbol: ps.Symbol}
	fail := func(err error) InstrumentPerformance {
		perf.Error = err.Error()
		perf.ErrorKind = errorKind(err)
		return perf
	}

	returns := dailyReturns(ps.Points)
	keys := make([]string, 0, len(returns))
	for key := range returns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	dates := make([]time.Time, 0, len(keys))
	rows := make([][]float64, 0, len(keys))
	for _, key := range keys {
		d, err := time.Parse(dateLayout, key)
		if err != nil {
			return fail(err)
		}
		dates = append(dates, d)
		rows = append(rows, []float64{returns[key]})
	}
	perf.Observations = len(rows)
	if len(rows) == 0 {
		return fail(&InsufficientDataError{Message: fmt.Sprintf("no return data for %s", ps.Symbol)})
	}

	matrix, err := NewReturnMatrix([]string{ps.Symbol}, dates, rows)
	if err != nil {
		return fail(err)
	}
	calc, err := NewMetricsCalculator(matrix, s.cfg.Risk)
	if err != nil {
		return fail(err)
	}
	metrics, err := calc.Metrics([]float64{1})
	if err != nil {
		return fail(err)
	}
	perf.Metrics = &metrics
	return perf
}

// performanceSymbols de-duplicates the request, defaulting to the catalog
func (s *Service) performanceSymbols(requested []string) ([]string, error) {
	if len(requested) == 0 {
		if s.catalog == nil {
			return nil, &ValidationError{Field: "symbols", Message: "no instruments selected"}
		}
		requested = s.catalog.Symbols()
	}

	seen := make(map[string]bool, len(requested))
	symbols := make([]string, 0, len(requested))
	for _, symbol := range requested {
		if seen[symbol] {
			continue
		}
		if s.catalog != nil && !s.catalog.Has(symbol) {
			return nil, &ValidationError{Field: "symbols", Message: fmt.Sprintf("unknown instrument %q", symbol)}
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	if len(symbols) == 0 {
		return nil, &ValidationError{Field: "symbols", Message: "no instruments selected"}
	}
	return symbols, nil
}

// window applies the configured history start and now to a zero range
func (s *Service) window(from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() {
		from = s.cfg.HistoryStart
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.After(to) {
		return from, to, &ValidationError{Field: "from", Message: "start date is after end date"}
	}
	return from, to, nil
}

// errorKind returns the Kind of a domain error, empty for anything else
func errorKind(err error) string {
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ""
}

// validateSelection checks symbols and strategy and returns the distinct
// symbols in request order.
func (s *Service) validateSelection(req AnalysisRequest) ([]string, error) {
	if !req.Strategy.Valid() {
		return nil, &ValidationError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", req.Strategy)}
	}

	seen := make(map[string]bool, len(req.Symbols))
	symbols := make([]string, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		if seen[symbol] {
			continue
		}
		if s.catalog != nil && !s.catalog.Has(symbol) {
			return nil, &ValidationError{Field: "symbols", Message: fmt.Sprintf("unknown instrument %q", symbol)}
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}

	if len(symbols) < 2 {
		return nil, &InsufficientDataError{Message: "at least 2 instruments must be selected"}
	}
	return symbols, nil
}

// loadSeries fetches every instrument's closes concurrently
func (s *Service) loadSeries(ctx context.Context, symbols []string, from, to time.Time) ([]PriceSeries, error) {
	series := make([]PriceSeries, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		g.Go(func() error {
			points, err := s.source.GetDailyCloses(gctx, symbol, from, to)
			if err != nil {
				return fmt.Errorf("failed to load prices for %s: %w", symbol, err)
			}
			series[i] = PriceSeries{Symbol: symbol, Points: points}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// NormalizeCustomWeights orders custom weights by symbols (missing symbols
// weigh 0) and scales them to sum to 1. Negative, non-finite or all-zero
// weights are rejected. Individual weights are not capped at 1 before
// normalization.
func NormalizeCustomWeights(symbols []string, custom map[string]float64) ([]float64, error) {
	weights := make([]float64, len(symbols))
	var sum float64
	for i, symbol := range symbols {
		w := custom[symbol]
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, &InvalidWeightsError{Message: fmt.Sprintf("weight for %s is not a finite number", symbol)}
		}
		if w < 0 {
			return nil, &InvalidWeightsError{Message: fmt.Sprintf("weight for %s is negative", symbol)}
		}
		weights[i] = w
		sum += w
	}
	if sum <= 0 {
		return nil, &InvalidWeightsError{Message: "custom weights must sum to a positive value"}
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

// selectedAnchor returns the anchor chosen as the analysed portfolio. A
// missing anchor fails the analysis.
func selectedAnchor(a AnchorPortfolio) ([]float64, PortfolioMetrics, error) {
	if a.OK() {
		return a.Portfolio.Weights, a.Portfolio.Metrics, nil
	}
	if a.Err != nil {
		return nil, PortfolioMetrics{}, a.Err
	}
	return nil, PortfolioMetrics{}, &OptimizationFailedError{Objective: a.Objective, Message: "no portfolio found"}
}

func weightsBySymbol(symbols []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for i, symbol := range symbols {
		out[symbol] = weights[i]
	}
	return out
}

func anchorSection(symbols []string, a AnchorPortfolio) AnchorSection {
	if !a.OK() {
		section := AnchorSection{Error: "optimization failed"}
		if a.Err != nil {
			section.Error = a.Err.Error()
		}
		return section
	}
	metrics := a.Portfolio.Metrics
	return AnchorSection{
		Success: true,
		Weights: weightsBySymbol(symbols, a.Portfolio.Weights),
		Metrics: &metrics,
	}
}

func cloudSection(cloud []WeightedPortfolio) CloudSection {
	section := CloudSection{
		Returns: make([]float64, len(cloud)),
		Risks:   make([]float64, len(cloud)),
		Sharpes: make([]float64, len(cloud)),
	}
	for i, p := range cloud {
		section.Returns[i] = p.Metrics.Return
		section.Risks[i] = p.Metrics.Risk
		section.Sharpes[i] = p.Metrics.Sharpe
	}
	return section
}

func curveSection(curve []FrontierPoint) CurveSection {
	section := CurveSection{
		Returns: make([]float64, len(curve)),
		Risks:   make([]*float64, len(curve)),
	}
	for i, p := range curve {
		section.Returns[i] = p.TargetReturn
		section.Risks[i] = p.Risk
	}
	return section
}
