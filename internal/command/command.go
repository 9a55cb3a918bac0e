package command

import (
	"encoding/json"
	"fmt"
)

// Kind tags a one-way command pushed to an agent
type Kind string

const (
	// KindReportNow asks the agent to collect and submit a report immediately
	KindReportNow Kind = "report-now"

	// KindSettingsUpdate tells the agent its polling interval changed
	KindSettingsUpdate Kind = "settings-update"

	// KindUpdateAgent tells the agent to self-update unconditionally
	KindUpdateAgent Kind = "update-agent"

	// KindUpdateNotification tells the agent a newer version is available
	KindUpdateNotification Kind = "update-notification"

	// KindIntegrationToggle enables or disables a named agent integration
	KindIntegrationToggle Kind = "integration-toggle"
)

// Command is a fire-and-forget message for an agent. There is no outbox,
// no delivery retry, and no acknowledgment at this layer.
type Command interface {
	Kind() Kind
}

// ReportNow carries no payload
type ReportNow struct{}

func (ReportNow) Kind() Kind { return KindReportNow }

// SettingsUpdate pushes the new polling interval to the agent
type SettingsUpdate struct {
	IntervalMinutes int `json:"interval_minutes"`
}

func (SettingsUpdate) Kind() Kind { return KindSettingsUpdate }

// UpdateAgent carries no payload
type UpdateAgent struct{}

func (UpdateAgent) Kind() Kind { return KindUpdateAgent }

// UpdateNotification tells the agent which version to update to and where
// to fetch it
type UpdateNotification struct {
	Version     string `json:"version"`
	Force       bool   `json:"force"`
	DownloadURL string `json:"download_url"`
	Message     string `json:"message"`
}

func (UpdateNotification) Kind() Kind { return KindUpdateNotification }

// IntegrationToggle switches a named agent integration on or off
type IntegrationToggle struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (IntegrationToggle) Kind() Kind { return KindIntegrationToggle }

// Envelope is the wire form of a command
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal serializes a command into its wire envelope
func Marshal(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command payload: %w", err)
	}

	data, err := json.Marshal(Envelope{Kind: cmd.Kind(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal command envelope: %w", err)
	}

	return data, nil
}
