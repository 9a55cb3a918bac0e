package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sender is the transport half of a live agent connection. The hub owns
// exactly one Sender per agent identity at any instant.
type Sender interface {
	// Send hands a serialized command to the local transport buffer.
	// A nil return means accepted by the buffer, not delivered.
	Send(data []byte) error

	// Close tears the connection down. Must be safe to call more than once.
	Close() error
}

// Info describes the current connection state for an agent identity
type Info struct {
	Connected bool      `json:"connected"`
	Secure    bool      `json:"secure"`
	Since     time.Time `json:"since,omitempty"`
}

type connection struct {
	sender Sender
	secure bool
	since  time.Time
}

// Hub is the single source of truth for which agents are reachable right
// now. It is owned by the server process and injected into everything that
// needs connection state; a fake can stand in for it in tests.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*connection
	subs    map[string]map[int]func(connected bool)
	nextSub int
	logger  zerolog.Logger
}

// New creates an empty hub
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*connection),
		subs:   make(map[string]map[int]func(connected bool)),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Register installs a new connection for an identity. Any prior connection
// for the same identity is closed before the new one becomes visible, so
// readers never observe two live connections for one agent.
func (h *Hub) Register(id string, s Sender, secure bool) {
	h.mu.Lock()
	if old, ok := h.conns[id]; ok {
		// Superseded connection: closed here, and its transport teardown
		// will not fire a disconnect event (see release).
		_ = old.sender.Close()
		h.logger.Info().Str("agent_id", id).Msg("Superseding existing agent connection")
	}
	h.conns[id] = &connection{sender: s, secure: secure, since: time.Now()}
	h.mu.Unlock()

	h.logger.Info().Str("agent_id", id).Bool("secure", secure).Msg("Agent connected")
	h.notify(id, true)
}

// Deregister force-closes the current connection for an identity, if any
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	_ = c.sender.Close()
	h.logger.Info().Str("agent_id", id).Msg("Agent deregistered")
	h.notify(id, false)
}

// release removes a connection when its transport closes. It is a no-op if
// the sender is no longer the current one for the identity (superseded or
// already force-deregistered), so stale teardowns never evict a live
// successor. Returns whether the connection was current.
func (h *Hub) release(id string, s Sender) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok || c.sender != s {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, id)
	h.mu.Unlock()

	h.logger.Info().Str("agent_id", id).Msg("Agent disconnected")
	h.notify(id, false)
	return true
}

// IsConnected reports whether an agent has a live connection
func (h *Hub) IsConnected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// GetInfo returns the connection state for an agent identity
func (h *Hub) GetInfo(id string) Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[id]
	if !ok {
		return Info{Connected: false}
	}

	return Info{Connected: true, Secure: c.secure, Since: c.since}
}

// ConnectedIDs returns a snapshot of all currently connected identities
func (h *Hub) ConnectedIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// Send writes a serialized command to an agent's connection. It returns
// false when the agent has no live connection or the transport rejects the
// write; it never blocks on the agent.
func (h *Hub) Send(id string, data []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	if err := c.sender.Send(data); err != nil {
		h.logger.Warn().Err(err).Str("agent_id", id).Msg("Failed to hand command to transport")
		return false
	}

	return true
}

// Subscribe registers a callback invoked synchronously on every
// connect/disconnect transition for an identity. The returned function
// removes the subscription.
func (h *Hub) Subscribe(id string, cb func(connected bool)) func() {
	h.mu.Lock()
	subs, ok := h.subs[id]
	if !ok {
		subs = make(map[int]func(connected bool))
		h.subs[id] = subs
	}
	key := h.nextSub
	h.nextSub++
	subs[key] = cb
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		if subs, ok := h.subs[id]; ok {
			delete(subs, key)
			if len(subs) == 0 {
				delete(h.subs, id)
			}
		}
		h.mu.Unlock()
	}
}

// CloseAll tears down every live connection, used at shutdown
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*connection)
	h.mu.Unlock()

	for id, c := range conns {
		_ = c.sender.Close()
		h.notify(id, false)
	}

	if len(conns) > 0 {
		h.logger.Info().Int("connections", len(conns)).Msg("Closed all agent connections")
	}
}

func (h *Hub) notify(id string, connected bool) {
	h.mu.RLock()
	callbacks := make([]func(connected bool), 0, len(h.subs[id]))
	for _, cb := range h.subs[id] {
		callbacks = append(callbacks, cb)
	}
	h.mu.RUnlock()

	for _, cb := range callbacks {
		cb(connected)
	}
}
