/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the HTTP server for access to services.
 */
package di

import (
	"github.com/aristath/frontier/internal/clients/kite"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Database: history.db caches daily prices and sync runs
 * - Clients: Kite Connect market data (nil when running without credentials)
 * - Universe: configured instruments, price validation, cache and sync
 * - Optimization: optimizer, worker pool, frontier generator and analysis service
 * - Scheduler: cron jobs for price sync and database maintenance
 */
type Container struct {
	// Databases
	HistoryDB *database.DB // Daily price cache and sync audit trail

	// Clients
	KiteClient *kite.Client // nil when no credentials are configured (dev mode only)

	// Universe
	Universe         *universe.Universe
	HistoryStore     *universe.HistoryDB
	PriceValidator   *universe.PriceValidator
	PriceRepository  *universe.PriceRepository
	PriceSyncService *universe.PriceSyncService

	// Optimization
	MVOptimizer       *optimization.MVOptimizer
	WorkerPool        *optimization.WorkerPool
	FrontierGenerator *optimization.FrontierGenerator
	OptimizerService  *optimization.Service

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered jobs for manual triggering via API
type JobInstances struct {
	PriceSync           scheduler.Job // nil when PRICE_SYNC_SCHEDULE is off
	CheckDatabases      scheduler.Job
	CheckWALCheckpoints scheduler.Job
}

// All returns the non-nil jobs
func (j *JobInstances) All() []scheduler.Job {
	var jobs []scheduler.Job
	for _, job := range []scheduler.Job{j.PriceSync, j.CheckDatabases, j.CheckWALCheckpoints} {
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}
