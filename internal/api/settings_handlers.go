package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
	"github.com/alvesdmateus/fleet-commander/internal/state"
)

// Broadcaster pushes one command to every connected agent
type Broadcaster interface {
	PushToAll(cmd command.Command) command.BroadcastResult
}

// ScheduleSetter installs or replaces a recurring automation cadence
type ScheduleSetter interface {
	Register(name string, sched orchestrator.Schedule)
}

// SettingsHandler handles fleet-wide setting changes
type SettingsHandler struct {
	repo      *state.Repository
	broadcast Broadcaster
	scheduler ScheduleSetter
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(repo *state.Repository, broadcast Broadcaster, scheduler ScheduleSetter) *SettingsHandler {
	return &SettingsHandler{repo: repo, broadcast: broadcast, scheduler: scheduler}
}

// PutPollInterval handles PUT /api/v1/settings/poll-interval. The new
// interval is persisted, pushed to every connected agent, and installed as
// the update-check cadence.
func (h *SettingsHandler) PutPollInterval(w http.ResponseWriter, r *http.Request) {
	var req PollIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IntervalMinutes <= 0 {
		RespondWithError(w, http.StatusBadRequest, "interval_minutes must be positive")
		return
	}

	if err := h.repo.SetSetting(r.Context(), state.SettingPollIntervalMinutes, strconv.Itoa(req.IntervalMinutes)); err != nil {
		log.Error().Err(err).Msg("Failed to persist poll interval")
		RespondWithError(w, http.StatusInternalServerError, "Failed to persist poll interval")
		return
	}

	h.scheduler.Register(orchestrator.AutomationUpdateCheck, orchestrator.Schedule{
		Every: time.Duration(req.IntervalMinutes) * time.Minute,
	})

	result := h.broadcast.PushToAll(command.SettingsUpdate{IntervalMinutes: req.IntervalMinutes})

	log.Info().
		Int("interval_minutes", req.IntervalMinutes).
		Int("notified", result.Notified).
		Int("failed", result.Failed).
		Msg("Poll interval updated")

	RespondWithJSON(w, http.StatusOK, result)
}

// PutIntegration handles PUT /api/v1/settings/integrations/{name}. The
// toggle is persisted and pushed to every connected agent.
func (h *SettingsHandler) PutIntegration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		RespondWithError(w, http.StatusBadRequest, "Integration name is required")
		return
	}

	var req IntegrationToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.repo.SetSetting(r.Context(), state.SettingIntegrationPrefix+name, strconv.FormatBool(req.Enabled)); err != nil {
		log.Error().Err(err).Str("integration", name).Msg("Failed to persist integration toggle")
		RespondWithError(w, http.StatusInternalServerError, "Failed to persist integration toggle")
		return
	}

	result := h.broadcast.PushToAll(command.IntegrationToggle{Name: name, Enabled: req.Enabled})

	log.Info().
		Str("integration", name).
		Bool("enabled", req.Enabled).
		Int("notified", result.Notified).
		Int("failed", result.Failed).
		Msg("Integration toggled")

	RespondWithJSON(w, http.StatusOK, result)
}
