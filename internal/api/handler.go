package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/sweep"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	baseCtx context.Context
	store   Store
	sweeper Sweeper
	log     zerolog.Logger
}

// NewHandler creates a Handler. A nil baseCtx means context.Background.
func NewHandler(baseCtx context.Context, store Store, sweeper Sweeper) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		baseCtx: baseCtx,
		store:   store,
		sweeper: sweeper,
		log:     logger.WithComponent("api"),
	}
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"sweep":     h.sweeper.State().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("database health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// triggerResponse is the body of both sweep triggers
type triggerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	*sweep.Summary
}

// TriggerSweep runs one sweep over all users and returns its summary.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Run(h.baseCtx)
	h.writeSweep(w, summary, err)
}

// CheckUser runs a sweep over one user's locations.
func (h *Handler) CheckUser(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.RunForUser(h.baseCtx, chi.URLParam(r, "userID"))
	h.writeSweep(w, summary, err)
}

func (h *Handler) writeSweep(w http.ResponseWriter, summary *sweep.Summary, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, triggerResponse{Success: true, Summary: summary})
		return
	}

	status, msg := sweepErrorStatus(err)
	ev := h.log.Warn()
	if status >= 500 {
		ev = h.log.Error()
	}
	ev.Err(err).Int("status", status).Msg("sweep trigger failed")

	// Partial counts are still reported for sweeps that ran.
	writeJSON(w, status, triggerResponse{Success: false, Error: msg, Summary: summary})
}

// sweepErrorStatus maps a sweep error to a status and a caller-facing
// sentence. Raw errors stay in the log.
func sweepErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sweep.ErrSweepInProgress):
		return http.StatusConflict, "A sweep is already running; try again when it finishes."
	case errors.Is(err, config.ErrMissingProviderToken):
		return http.StatusServiceUnavailable, "Air quality provider credentials are not configured."
	case errors.Is(err, sweep.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "The alert store is unavailable."
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "User not found."
	case errors.Is(err, sweep.ErrCancelled):
		return http.StatusConflict, "The sweep was cancelled before it finished."
	default:
		return http.StatusInternalServerError, "The sweep failed."
	}
}

// CurrentSweep reports the orchestrator state and the last finished sweep.
func (h *Handler) CurrentSweep(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"state": h.sweeper.State().String(),
	}
	last, err := h.sweeper.Last()
	if last != nil {
		resp["last"] = last
	}
	if err != nil {
		_, msg := sweepErrorStatus(err)
		resp["lastError"] = msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelSweep cancels the running sweep.
func (h *Handler) CancelSweep(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sweeper.Cancel()
	if !ok {
		writeError(w, http.StatusNotFound, "no_sweep", "No sweep is running")
		return
	}
	h.log.Info().Str("sweep_id", id).Msg("sweep cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"sweepId":   id,
		"cancelled": true,
	})
}
