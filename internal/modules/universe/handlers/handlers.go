// Package handlers provides HTTP handlers for the instrument universe and price sync.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/universe"
)

const defaultRunsLimit = 20

// Syncer triggers a price sync pass
type Syncer interface {
	SyncAll(ctx context.Context) (*universe.SyncReport, error)
}

// RunLister lists past sync runs
type RunLister interface {
	RecentSyncRuns(ctx context.Context, limit int) ([]universe.SyncRun, error)
}

// UniverseHandlers handles instrument and price sync requests
type UniverseHandlers struct {
	catalog universe.Catalog
	syncer  Syncer
	runs    RunLister
	log     zerolog.Logger
}

// NewUniverseHandlers creates a new universe handlers instance
func NewUniverseHandlers(catalog universe.Catalog, syncer Syncer, runs RunLister, log zerolog.Logger) *UniverseHandlers {
	return &UniverseHandlers{
		catalog: catalog,
		syncer:  syncer,
		runs:    runs,
		log:     log.With().Str("handler", "universe").Logger(),
	}
}

// RegisterRoutes registers universe routes
func (h *UniverseHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/instruments", h.HandleGetInstruments)

	r.Route("/prices", func(r chi.Router) {
		r.Post("/sync", h.HandleSyncPrices)
		r.Get("/sync/runs", h.HandleGetSyncRuns)
	})
}

// HandleGetInstruments lists the instruments available for analysis
// Endpoint: GET /api/instruments
func (h *UniverseHandlers) HandleGetInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := h.catalog.All()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"instruments": instruments,
			"count":       len(instruments),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleSyncPrices triggers a manual price sync for all instruments
// Endpoint: POST /api/prices/sync
func (h *UniverseHandlers) HandleSyncPrices(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Manual price sync triggered")

	report, err := h.syncer.SyncAll(r.Context())
	if errors.Is(err, universe.ErrSyncInProgress) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, universe.ErrNoProvider) {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Price sync failed")
		if report == nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"data":    report,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    report,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"failed":    report.Failed(),
		},
	})
}

// HandleGetSyncRuns lists recent sync runs
// Endpoint: GET /api/prices/sync/runs?limit=N
func (h *UniverseHandlers) HandleGetSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.RecentSyncRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sync runs")
		h.writeError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}
	if runs == nil {
		runs = []universe.SyncRun{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    runs,
	})
}

func (h *UniverseHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// writeJSON writes a JSON response
func (h *UniverseHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
