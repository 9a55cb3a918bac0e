package command

import (
	"github.com/rs/zerolog"
)

// Directory is the slice of the connection hub the dispatcher needs
type Directory interface {
	// Send writes serialized bytes to an agent's connection, reporting
	// false when the agent is unreachable
	Send(id string, data []byte) bool

	// ConnectedIDs returns a snapshot of currently connected identities
	ConnectedIDs() []string
}

// BroadcastResult summarizes a push to all connected agents. Total is the
// connected-count snapshot the push iterated over; agents that dropped off
// mid-loop are counted as failed, not retried.
type BroadcastResult struct {
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// Dispatcher serializes and delivers commands over hub-held connections
type Dispatcher struct {
	dir    Directory
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher over a connection directory
func NewDispatcher(dir Directory, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		dir:    dir,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Push delivers one command to one agent. It returns false when the agent
// has no live connection or the transport rejects the write; a true result
// means accepted by the local transport buffer, nothing more.
func (d *Dispatcher) Push(id string, cmd Command) bool {
	data, err := Marshal(cmd)
	if err != nil {
		d.logger.Error().Err(err).Str("agent_id", id).Str("kind", string(cmd.Kind())).
			Msg("Failed to serialize command")
		return false
	}

	delivered := d.dir.Send(id, data)

	d.logger.Debug().
		Str("agent_id", id).
		Str("kind", string(cmd.Kind())).
		Bool("delivered", delivered).
		Msg("Pushed command")

	return delivered
}

// PushToAll delivers one command to every currently connected agent. Each
// push is independent; one failure never aborts the loop.
func (d *Dispatcher) PushToAll(cmd Command) BroadcastResult {
	ids := d.dir.ConnectedIDs()
	result := BroadcastResult{Total: len(ids)}

	for _, id := range ids {
		if d.Push(id, cmd) {
			result.Notified++
		} else {
			result.Failed++
		}
	}

	d.logger.Info().
		Str("kind", string(cmd.Kind())).
		Int("notified", result.Notified).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Msg("Broadcast command to connected agents")

	return result
}
