package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
)

const defaultJobListLimit = 20

// QueueHandler handles queue inspection and manual trigger requests
type QueueHandler struct {
	engine *orchestrator.Engine
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(engine *orchestrator.Engine) *QueueHandler {
	return &QueueHandler{engine: engine}
}

// GetAllStats handles GET /api/v1/queues/stats
func (h *QueueHandler) GetAllStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetAllStats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect queue stats")
		RespondWithError(w, http.StatusInternalServerError, "Failed to collect queue stats")
		return
	}

	RespondWithJSON(w, http.StatusOK, stats)
}

// GetRecentJobs handles GET /api/v1/queues/{queue}/jobs
func (h *QueueHandler) GetRecentJobs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	limit := parseLimit(r, defaultJobListLimit)

	jobs, err := h.engine.GetRecentJobs(r.Context(), name, limit)
	if err != nil {
		log.Error().Err(err).Str("queue", name).Msg("Failed to list recent jobs")
		RespondWithError(w, http.StatusNotFound, "Unknown queue")
		return
	}

	RespondWithJSON(w, http.StatusOK, jobs)
}

// TriggerAutomation handles POST /api/v1/automations/{name}/trigger
func (h *QueueHandler) TriggerAutomation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, err := h.engine.Trigger(r.Context(), name)
	if err != nil {
		log.Error().Err(err).Str("automation", name).Msg("Failed to trigger automation")
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusAccepted, TriggerResponse{
		JobID:      job.ID,
		Automation: name,
		Priority:   true,
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
