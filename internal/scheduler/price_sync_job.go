package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/universe"
)

// DefaultPriceSyncTimeout bounds one scheduled sync pass
const DefaultPriceSyncTimeout = 15 * time.Minute

// PriceSyncer refreshes the price history cache
type PriceSyncer interface {
	SyncAll(ctx context.Context) (*universe.SyncReport, error)
}

// PriceSyncJob refreshes the history cache from the market data provider
type PriceSyncJob struct {
	log     zerolog.Logger
	syncer  PriceSyncer
	timeout time.Duration
}

// NewPriceSyncJob creates a new PriceSyncJob
func NewPriceSyncJob(syncer PriceSyncer, timeout time.Duration) *PriceSyncJob {
	if timeout <= 0 {
		timeout = DefaultPriceSyncTimeout
	}
	return &PriceSyncJob{
		log:     zerolog.Nop(),
		syncer:  syncer,
		timeout: timeout,
	}
}

// SetLogger sets the logger for the job
func (j *PriceSyncJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *PriceSyncJob) Name() string {
	return "price_sync"
}

// Run executes the price sync job
func (j *PriceSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.syncer.SyncAll(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Int("instruments", len(report.Runs)).
		Int("failed", report.Failed()).
		Msg("Scheduled price sync finished")

	return nil
}
