// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/scheduler"
)

// Maintenance schedules (with seconds field)
const (
	checkDatabasesSchedule      = "0 0 3 * * *" // daily 03:00
	checkWALCheckpointsSchedule = "0 0 * * * *" // hourly
)

// RegisterJobs creates the scheduler and registers all jobs.
// Returns JobInstances for manual triggering via API.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = scheduler.New(log)
	instances := &JobInstances{}

	// Price sync (skipped when disabled or when there is no provider)
	if cfg.PriceSyncSchedule != "" && container.KiteClient != nil {
		priceSync := scheduler.NewPriceSyncJob(container.PriceSyncService, scheduler.DefaultPriceSyncTimeout)
		priceSync.SetLogger(log)
		if err := container.Scheduler.AddJob(cfg.PriceSyncSchedule, priceSync); err != nil {
			return nil, fmt.Errorf("failed to register price sync job: %w", err)
		}
		instances.PriceSync = priceSync
	} else {
		log.Info().Msg("Scheduled price sync disabled")
	}

	checkDatabases := scheduler.NewCheckDatabasesJob(container.HistoryDB)
	checkDatabases.SetLogger(log)
	if err := container.Scheduler.AddJob(checkDatabasesSchedule, checkDatabases); err != nil {
		return nil, fmt.Errorf("failed to register check databases job: %w", err)
	}
	instances.CheckDatabases = checkDatabases

	checkWAL := scheduler.NewCheckWALCheckpointsJob(container.HistoryDB)
	checkWAL.SetLogger(log)
	if err := container.Scheduler.AddJob(checkWALCheckpointsSchedule, checkWAL); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}
	instances.CheckWALCheckpoints = checkWAL

	log.Info().Int("jobs", container.Scheduler.Entries()).Msg("Jobs registered")

	return instances, nil
}
