// Package handlers provides HTTP handlers for portfolio analysis.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/frontier/internal/modules/optimization"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
	dateLayout         = "2006-01-02"
	maxRequestBytes    = 1 << 20
)

// Analyzer runs portfolio analyses and per-instrument performance reports
type Analyzer interface {
	Analyze(ctx context.Context, req optimization.AnalysisRequest) (*optimization.AnalysisResponse, error)
	InstrumentPerformance(ctx context.Context, req optimization.PerformanceRequest) (*optimization.PerformanceResponse, error)
}

// Handler handles optimizer HTTP requests
type Handler struct {
	analyzer Analyzer
	log      zerolog.Logger
}

// NewHandler creates a new optimizer handler
func NewHandler(analyzer Analyzer, log zerolog.Logger) *Handler {
	return &Handler{
		analyzer: analyzer,
		log:      log.With().Str("handler", "optimizer").Logger(),
	}
}

// AnalyzeRequest is the body of POST /api/optimizer/analyze
type AnalyzeRequest struct {
	Symbols  []string           `json:"symbols"`
	Strategy string             `json:"strategy"`
	Weights  map[string]float64 `json:"weights,omitempty"`
	From     string             `json:"from,omitempty"` // YYYY-MM-DD
	To       string             `json:"to,omitempty"`   // YYYY-MM-DD
}

// HandleAnalyze handles POST /api/optimizer/analyze
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, optimization.KindInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	req := optimization.AnalysisRequest{
		Symbols:  body.Symbols,
		Strategy: optimization.Strategy(body.Strategy),
		Weights:  body.Weights,
	}

	var err error
	if req.From, err = parseDate(body.From); err != nil {
		h.writeError(w, r, http.StatusBadRequest, optimization.KindInvalidRequest, "invalid from date, expected YYYY-MM-DD")
		return
	}
	if req.To, err = parseDate(body.To); err != nil {
		h.writeError(w, r, http.StatusBadRequest, optimization.KindInvalidRequest, "invalid to date, expected YYYY-MM-DD")
		return
	}

	resp, err := h.analyzer.Analyze(r.Context(), req)
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Strs("symbols", body.Symbols).Str("strategy", body.Strategy).Msg("Analysis failed")
		} else {
			h.log.Warn().Err(err).Strs("symbols", body.Symbols).Str("strategy", body.Strategy).Msg("Analysis rejected")
		}
		h.writeError(w, r, status, kind, err.Error())
		return
	}

	h.write(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    resp,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// PerformanceRequest is the body of POST /api/optimizer/performance. An empty
// body reports every configured instrument.
type PerformanceRequest struct {
	Symbols []string `json:"symbols,omitempty"`
	From    string   `json:"from,omitempty"` // YYYY-MM-DD
	To      string   `json:"to,omitempty"`   // YYYY-MM-DD
}

// HandlePerformance handles POST /api/optimizer/performance
func (h *Handler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	var body PerformanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, http.StatusBadRequest, optimization.KindInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	req := optimization.PerformanceRequest{Symbols: body.Symbols}
	var err error
	if req.From, err = parseDate(body.From); err != nil {
		h.writeError(w, r, http.StatusBadRequest, optimization.KindInvalidRequest, "invalid from date, expected YYYY-MM-DD")
		return
	}
	if req.To, err = parseDate(body.To); err != nil {
		h.writeError(w, r, http.StatusBadRequest, optimization.KindInvalidRequest, "invalid to date, expected YYYY-MM-DD")
		return
	}

	resp, err := h.analyzer.InstrumentPerformance(r.Context(), req)
	if err != nil {
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Strs("symbols", body.Symbols).Msg("Performance report failed")
		} else {
			h.log.Warn().Err(err).Strs("symbols", body.Symbols).Msg("Performance report rejected")
		}
		h.writeError(w, r, status, kind, err.Error())
		return
	}

	h.write(w, r, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    resp,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// classify maps domain errors to an HTTP status and error kind
func classify(err error) (int, string) {
	var (
		validation   *optimization.ValidationError
		insufficient *optimization.InsufficientDataError
		weights      *optimization.InvalidWeightsError
		degenerate   *optimization.DegenerateRiskError
		failed       *optimization.OptimizationFailedError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Kind()
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity, insufficient.Kind()
	case errors.As(err, &weights):
		return http.StatusUnprocessableEntity, weights.Kind()
	case errors.As(err, &degenerate):
		return http.StatusUnprocessableEntity, degenerate.Kind()
	case errors.As(err, &failed):
		return http.StatusInternalServerError, failed.Kind()
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	h.write(w, r, status, map[string]interface{}{
		"success":    false,
		"error_kind": kind,
		"error":      message,
	})
}

// write encodes data as MessagePack when the client accepts it, JSON otherwise
func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if strings.Contains(r.Header.Get("Accept"), contentTypeMsgpack) {
		payload, err := msgpack.Marshal(data)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to encode MessagePack response")
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success":    false,
				"error_kind": "internal",
				"error":      "failed to encode response",
			})
			return
		}
		w.Header().Set("Content-Type", contentTypeMsgpack)
		w.WriteHeader(status)
		if _, err := w.Write(payload); err != nil {
			h.log.Error().Err(err).Msg("Failed to write MessagePack response")
		}
		return
	}
	h.writeJSON(w, status, data)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
