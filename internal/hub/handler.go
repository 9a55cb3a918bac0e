package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// IdentityHeader carries the agent's opaque API identity on the handshake
const IdentityHeader = "X-Agent-Identity"

// HostDirectory is the collaborator boundary for handshake validation and
// connection-state persistence
type HostDirectory interface {
	// ValidateIdentity reports whether an API identity maps to a known host
	ValidateIdentity(ctx context.Context, identity string) (bool, error)

	// RecordStatus persists a connect/disconnect transition for a host
	RecordStatus(ctx context.Context, identity string, connected bool, at time.Time)
}

// Handler upgrades agent handshakes into hub connections
type Handler struct {
	hub              *Hub
	hosts            HostDirectory
	upgrader         websocket.Upgrader
	heartbeatTimeout time.Duration
	writeTimeout     time.Duration
	logger           zerolog.Logger
}

// NewHandler creates the agent websocket endpoint handler
func NewHandler(h *Hub, hosts HostDirectory, heartbeatTimeout, writeTimeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:   h,
		hosts: hosts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are not browsers; the identity check below is the gate
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		heartbeatTimeout: heartbeatTimeout,
		writeTimeout:     writeTimeout,
		logger:           logger.With().Str("component", "agent-ws").Logger(),
	}
}

// ServeHTTP handles one agent connection for its whole lifetime
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		http.Error(w, "missing agent identity", http.StatusUnauthorized)
		return
	}

	known, err := h.hosts.ValidateIdentity(r.Context(), identity)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to validate agent identity")
		http.Error(w, "identity lookup failed", http.StatusInternalServerError)
		return
	}
	if !known {
		h.logger.Warn().Str("agent_id", identity).Msg("Rejected unknown agent identity")
		http.Error(w, "unknown agent identity", http.StatusUnauthorized)
		return
	}

	secure := r.TLS != nil

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Warn().Err(err).Str("agent_id", identity).Msg("Websocket upgrade failed")
		return
	}

	// Persist every transition for this identity while the connection is
	// alive. Superseded connections never fire a disconnect, so the host
	// row does not flap when an agent reconnects.
	unsubscribe := h.hub.Subscribe(identity, func(connected bool) {
		h.hosts.RecordStatus(context.Background(), identity, connected, time.Now())
	})
	defer unsubscribe()

	client := newClient(h.hub, identity, conn, h.heartbeatTimeout, h.writeTimeout, h.logger)
	h.hub.Register(identity, client, secure)

	client.run()
}
