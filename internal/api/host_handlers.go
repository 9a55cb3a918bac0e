package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/hub"
	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
	"github.com/alvesdmateus/fleet-commander/internal/state"
	"github.com/alvesdmateus/fleet-commander/internal/version"
)

// Updater is the version negotiation boundary the handlers depend on
type Updater interface {
	CheckAndPush(id, agentVersion string, force bool) version.Decision
}

// Pusher delivers one command to one agent
type Pusher interface {
	Push(id string, cmd command.Command) bool
}

// HostHandler handles per-host HTTP requests
type HostHandler struct {
	repo    *state.Repository
	hub     *hub.Hub
	engine  *orchestrator.Engine
	updater Updater
	pusher  Pusher
}

// NewHostHandler creates a new host handler
func NewHostHandler(repo *state.Repository, h *hub.Hub, engine *orchestrator.Engine, updater Updater, pusher Pusher) *HostHandler {
	return &HostHandler{repo: repo, hub: h, engine: engine, updater: updater, pusher: pusher}
}

func (h *HostHandler) hostFromPath(w http.ResponseWriter, r *http.Request) (*state.Host, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid host ID")
		return nil, false
	}

	host, err := h.repo.GetHost(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("id", idStr).Msg("Failed to get host")
		RespondWithError(w, http.StatusNotFound, "Host not found")
		return nil, false
	}

	return host, true
}

// GetHostJobs handles GET /api/v1/hosts/{id}/jobs
func (h *HostHandler) GetHostJobs(w http.ResponseWriter, r *http.Request) {
	host, ok := h.hostFromPath(w, r)
	if !ok {
		return
	}

	limit := parseLimit(r, defaultJobListLimit)

	jobs, err := h.engine.GetHostJobs(r.Context(), host.ID, host.APIIdentity, limit)
	if err != nil {
		log.Error().Err(err).Str("host_id", host.ID.String()).Msg("Failed to collect host jobs")
		RespondWithError(w, http.StatusInternalServerError, "Failed to collect host jobs")
		return
	}

	RespondWithJSON(w, http.StatusOK, jobs)
}

// GetConnection handles GET /api/v1/hosts/{id}/connection
func (h *HostHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	host, ok := h.hostFromPath(w, r)
	if !ok {
		return
	}

	RespondWithJSON(w, http.StatusOK, h.hub.GetInfo(host.APIIdentity))
}

// StreamConnection handles GET /api/v1/hosts/{id}/connection/stream.
// It holds the request open and emits one SSE event per connect/disconnect
// transition, starting with the current state.
func (h *HostHandler) StreamConnection(w http.ResponseWriter, r *http.Request) {
	host, ok := h.hostFromPath(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Buffered so a transition arriving while we write is not dropped;
	// coalescing rapid flaps into a slightly stale stream is acceptable.
	events := make(chan bool, 8)
	unsubscribe := h.hub.Subscribe(host.APIIdentity, func(connected bool) {
		select {
		case events <- connected:
		default:
		}
	})
	defer unsubscribe()

	writeEvent := func(connected bool) {
		fmt.Fprintf(w, "data: {\"connected\": %t}\n\n", connected)
		flusher.Flush()
	}

	writeEvent(h.hub.IsConnected(host.APIIdentity))

	for {
		select {
		case <-r.Context().Done():
			return
		case connected := <-events:
			writeEvent(connected)
		}
	}
}

// UpdateHost handles POST /api/v1/hosts/{id}/update
func (h *HostHandler) UpdateHost(w http.ResponseWriter, r *http.Request) {
	host, ok := h.hostFromPath(w, r)
	if !ok {
		return
	}

	force := r.URL.Query().Get("force") == "true"

	decision := h.updater.CheckAndPush(host.APIIdentity, host.AgentVersion, force)
	RespondWithJSON(w, http.StatusOK, decision)
}

// SelfUpdate handles POST /api/v1/hosts/{id}/self-update. It bypasses
// version negotiation entirely and tells the agent to self-update now.
func (h *HostHandler) SelfUpdate(w http.ResponseWriter, r *http.Request) {
	host, ok := h.hostFromPath(w, r)
	if !ok {
		return
	}

	if !h.pusher.Push(host.APIIdentity, command.UpdateAgent{}) {
		RespondWithError(w, http.StatusConflict, "Agent is not connected")
		return
	}

	RespondWithSuccess(w, http.StatusAccepted, "Self-update command sent", nil)
}

// ReportVersion handles POST /api/v1/agents/version. Agents identify
// themselves with the same identity header used on the websocket handshake.
func (h *HostHandler) ReportVersion(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(hub.IdentityHeader)
	if identity == "" {
		RespondWithError(w, http.StatusUnauthorized, "Missing agent identity")
		return
	}

	host, err := h.repo.GetHostByIdentity(r.Context(), identity)
	if err != nil {
		log.Warn().Err(err).Msg("Version report from unknown agent identity")
		RespondWithError(w, http.StatusUnauthorized, "Unknown agent identity")
		return
	}

	var req VersionReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Version == "" {
		RespondWithError(w, http.StatusBadRequest, "Version is required")
		return
	}

	if err := h.repo.UpdateHostAgentVersion(r.Context(), host.ID, req.Version); err != nil {
		log.Error().Err(err).Str("host_id", host.ID.String()).Msg("Failed to persist agent version")
		RespondWithError(w, http.StatusInternalServerError, "Failed to persist agent version")
		return
	}

	decision := h.updater.CheckAndPush(identity, req.Version, false)
	RespondWithJSON(w, http.StatusOK, decision)
}
