package api

import (
	"net/http"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/hub"
	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
)

// BroadcastUpdater negotiates updates across the whole connected fleet
type BroadcastUpdater interface {
	CheckAndPushAll(force bool) command.BroadcastResult
}

// AgentHandler handles fleet-wide agent operations
type AgentHandler struct {
	engine  *orchestrator.Engine
	hub     *hub.Hub
	updater BroadcastUpdater
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(engine *orchestrator.Engine, h *hub.Hub, updater BroadcastUpdater) *AgentHandler {
	return &AgentHandler{engine: engine, hub: h, updater: updater}
}

// ListConnections handles GET /api/v1/agents/connections
func (h *AgentHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	ids := h.hub.ConnectedIDs()
	sort.Strings(ids)

	conns := make([]ConnectionEntry, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, ConnectionEntry{
			AgentID: id,
			Info:    h.hub.GetInfo(id),
		})
	}

	RespondWithJSON(w, http.StatusOK, conns)
}

// ReportNowAll handles POST /api/v1/agents/report-now
func (h *AgentHandler) ReportNowAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.EnqueueReportAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue bulk report requests")
		RespondWithError(w, http.StatusInternalServerError, "Failed to enqueue report requests")
		return
	}

	RespondWithJSON(w, http.StatusAccepted, ReportAllResponse{Enqueued: count})
}

// UpdateAll handles POST /api/v1/agents/update-all
func (h *AgentHandler) UpdateAll(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	result := h.updater.CheckAndPushAll(force)
	RespondWithJSON(w, http.StatusOK, result)
}
