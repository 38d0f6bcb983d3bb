// Package server provides the HTTP server and routing for Frontier.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
)

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	historyDB   *database.DB
	syncRuns    *universe.HistoryDB
	catalog     universe.Catalog
	scheduler   *scheduler.Scheduler
	jobs        map[string]scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	historyDB *database.DB,
	syncRuns *universe.HistoryDB,
	catalog universe.Catalog,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		historyDB:   historyDB,
		syncRuns:    syncRuns,
		catalog:     catalog,
		scheduler:   sched,
		jobs:        make(map[string]scheduler.Job),
	}
}

// SetJobs registers job instances for manual triggering via API
func (h *SystemHandlers) SetJobs(jobs ...scheduler.Job) {
	for _, job := range jobs {
		if job != nil {
			h.jobs[job.Name()] = job
		}
	}
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status          string            `json:"status"` // "healthy" or "degraded"
	Uptime          string            `json:"uptime"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	CPUPercent      float64           `json:"cpu_percent"`
	RAMPercent      float64           `json:"ram_percent"`
	Instruments     int               `json:"instruments"`
	ScheduledJobs   int               `json:"scheduled_jobs"`
	HistoryDBSizeMB float64           `json:"history_db_size_mb"`
	LastSync        *universe.SyncRun `json:"last_sync,omitempty"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	SizeMB      float64 `json:"size_mb"`
	WALSizeMB   float64 `json:"wal_size_mb"`
	PageCount   int64   `json:"page_count"`
	PageSize    int64   `json:"page_size"`
	LastChecked string  `json:"last_checked"`
}

// JobsStatusResponse represents scheduler job status
type JobsStatusResponse struct {
	ScheduledJobs int       `json:"scheduled_jobs"`
	Jobs          []JobInfo `json:"jobs"`
}

// JobInfo represents a job that can be triggered manually
type JobInfo struct {
	Name    string `json:"name"`
	Trigger string `json:"trigger"` // POST path
}

// GetSystemStatusSnapshot returns a snapshot of the current system status.
// The returned error is the first problem found; the snapshot is still usable.
func (h *SystemHandlers) GetSystemStatusSnapshot(ctx context.Context) (SystemStatusResponse, error) {
	var firstErr error
	recordErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	uptime := time.Since(h.startupTime)
	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
	}

	if h.catalog != nil {
		response.Instruments = len(h.catalog.All())
	}
	if h.scheduler != nil {
		response.ScheduledJobs = h.scheduler.Entries()
	}

	if h.historyDB != nil {
		if err := h.historyDB.Conn().PingContext(ctx); err != nil {
			h.log.Error().Err(err).Msg("History database unreachable")
			recordErr(err)
			response.Status = "degraded"
		} else if stats, err := h.historyDB.GetStats(); err != nil {
			recordErr(err)
		} else {
			response.HistoryDBSizeMB = bytesToMB(stats.SizeBytes + stats.WALSizeBytes)
		}
	}

	if h.syncRuns != nil && response.Status == "healthy" {
		runs, err := h.syncRuns.RecentSyncRuns(ctx, 1)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to query sync runs")
			recordErr(err)
		} else if len(runs) > 0 {
			response.LastSync = &runs[0]
		}
	}

	return response, firstErr
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.GetSystemStatusSnapshot(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}

	h.writeJSON(w, response)
}

// HandleDatabaseStats returns history database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	if h.historyDB == nil {
		http.Error(w, "History database not available", http.StatusServiceUnavailable)
		return
	}

	stats, err := h.historyDB.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, DatabaseStatsResponse{
		Name:        h.historyDB.Name(),
		Path:        h.historyDB.Path(),
		SizeMB:      bytesToMB(stats.SizeBytes),
		WALSizeMB:   bytesToMB(stats.WALSizeBytes),
		PageCount:   stats.PageCount,
		PageSize:    stats.PageSize,
		LastChecked: time.Now().Format(time.RFC3339),
	})
}

// HandleJobsStatus lists the jobs that can be triggered manually
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	response := JobsStatusResponse{Jobs: make([]JobInfo, 0, len(h.jobs))}
	if h.scheduler != nil {
		response.ScheduledJobs = h.scheduler.Entries()
	}

	for name := range h.jobs {
		response.Jobs = append(response.Jobs, JobInfo{
			Name:    name,
			Trigger: "/api/system/jobs/" + name,
		})
	}
	sort.Slice(response.Jobs, func(i, j int) bool {
		return response.Jobs[i].Name < response.Jobs[j].Name
	})

	h.writeJSON(w, response)
}

// HandleTriggerJob runs a registered job immediately and waits for it
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		http.Error(w, fmt.Sprintf("Job %q not registered", name), http.StatusNotFound)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job triggered")

	var err error
	if h.scheduler != nil {
		err = h.scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Job %s completed", name),
	})
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short sampling interval (100ms) to keep the status call responsive
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	// Get memory statistics (instant, no blocking)
	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func bytesToMB(n int64) float64 {
	return float64(n) / 1024 / 1024
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
