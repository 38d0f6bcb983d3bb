// Package di provides dependency injection for services.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/modules/universe"
)

// InitializeServices builds the universe and optimization services on top of
// the database and client layers
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Instrument universe
	instruments := universe.DefaultInstruments()
	if cfg.Instruments != "" {
		parsed, err := universe.ParseInstruments(cfg.Instruments)
		if err != nil {
			return fmt.Errorf("invalid INSTRUMENTS: %w", err)
		}
		instruments = parsed
	}
	u, err := universe.NewUniverse(instruments)
	if err != nil {
		return fmt.Errorf("invalid instrument universe: %w", err)
	}
	container.Universe = u

	// A nil *kite.Client must not end up inside a non-nil interface
	var provider universe.CandleProvider
	if container.KiteClient != nil {
		provider = container.KiteClient
	}

	container.HistoryStore = universe.NewHistoryDB(container.HistoryDB.Conn(), log)
	container.PriceValidator = universe.NewPriceValidator(log)
	container.PriceRepository = universe.NewPriceRepository(
		container.Universe,
		container.HistoryStore,
		provider,
		container.PriceValidator,
		log,
	)
	container.PriceSyncService = universe.NewPriceSyncService(
		provider,
		container.Universe,
		container.HistoryStore,
		container.PriceValidator,
		cfg.HistoryStart,
		log,
	)

	// Optimization
	container.MVOptimizer = optimization.NewMVOptimizer(optimization.Settings{
		MaxIterations: cfg.SolverMaxIterations,
		Timeout:       cfg.SolverTimeout,
	}, log)
	container.WorkerPool = optimization.NewWorkerPool(cfg.FrontierWorkers)
	container.FrontierGenerator = optimization.NewFrontierGenerator(container.MVOptimizer, container.WorkerPool, log)
	container.OptimizerService = optimization.NewService(
		container.PriceRepository,
		container.Universe,
		container.FrontierGenerator,
		optimization.ServiceConfig{
			Risk: optimization.RiskParams{
				TradingDays:  float64(cfg.TradingDays),
				RiskFreeRate: cfg.RiskFreeRate,
			},
			Frontier: optimization.FrontierOptions{
				SamplePortfolios: cfg.FrontierSamples,
				CurvePoints:      cfg.FrontierCurvePoints,
				Seed:             cfg.FrontierSeed,
			},
			HistoryStart: cfg.HistoryStart,
		},
		log,
	)

	log.Info().
		Int("instruments", len(instruments)).
		Bool("market_data", provider != nil).
		Int("frontier_workers", container.WorkerPool.Workers()).
		Msg("Services initialized")

	return nil
}
