package api

import (
	"github.com/alvesdmateus/fleet-commander/internal/hub"
)

// TriggerResponse acknowledges a manually triggered automation run
type TriggerResponse struct {
	JobID      string `json:"job_id"`
	Automation string `json:"automation"`
	Priority   bool   `json:"priority"`
}

// ReportAllResponse reports how many agents were targeted by a bulk request
type ReportAllResponse struct {
	Enqueued int `json:"enqueued"`
}

// ConnectionEntry pairs an agent identity with its live connection info
type ConnectionEntry struct {
	AgentID string   `json:"agent_id"`
	Info    hub.Info `json:"info"`
}

// VersionReportRequest is posted by an agent announcing its running version
type VersionReportRequest struct {
	Version string `json:"version"`
}

// PollIntervalRequest updates the fleet-wide polling interval
type PollIntervalRequest struct {
	IntervalMinutes int `json:"interval_minutes"`
}

// IntegrationToggleRequest enables or disables a named agent integration
type IntegrationToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
	Version  string `json:"version"`
}
