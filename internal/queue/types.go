package queue

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"
)

// State is a job's position in its lifecycle
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// JobType names the work a job carries
type JobType string

const (
	// JobTypeReportRequest pushes a report-now command to one agent
	JobTypeReportRequest JobType = "report-request"

	// JobTypeAgentUpdate runs an update negotiation for one agent
	JobTypeAgentUpdate JobType = "agent-update"

	// JobTypeImagePoll runs a registry digest poll over all tracked images
	JobTypeImagePoll JobType = "image-poll"

	// JobTypeHistoryCleanup prunes old job history rows
	JobTypeHistoryCleanup JobType = "history-cleanup"

	// JobTypeUpdateCheck refreshes the release feed and pushes updates to
	// every connected agent
	JobTypeUpdateCheck JobType = "update-check"
)

// BackoffKind selects how retry delays grow
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff bounds
const (
	maxBackoffDelay      = 10 * time.Minute
	backoffJitterPercent = 0.1
)

// RetryPolicy is fixed at enqueue time and travels with the job
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     BackoffKind   `json:"backoff"`
	BaseDelay   time.Duration `json:"base_delay"`
}

// Delay returns the backoff before the given retry attempt, with jitter so
// synchronized failures do not retry in lockstep
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	if p.Backoff == BackoffExponential && attempt > 1 {
		delay *= math.Pow(2, float64(attempt-1))
	}

	if delay > float64(maxBackoffDelay) {
		delay = float64(maxBackoffDelay)
	}

	jitter := delay * backoffJitterPercent * (2*rand.Float64() - 1)
	return time.Duration(delay + jitter)
}

// Job is one unit of scheduled or ad-hoc work
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Type       JobType         `json:"type"`
	AgentID    string          `json:"agent_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	State      State           `json:"state"`
	Attempts   int             `json:"attempts"`
	Retry      RetryPolicy     `json:"retry"`
	Priority   bool            `json:"priority,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// ReportRequestPayload targets one agent for an immediate report
type ReportRequestPayload struct {
	AgentID string `json:"agent_id"`
}

// AgentUpdatePayload carries an update negotiation request for one agent
type AgentUpdatePayload struct {
	AgentID      string `json:"agent_id"`
	AgentVersion string `json:"agent_version"`
	Force        bool   `json:"force"`
}

// HistoryCleanupPayload bounds the history pruning run
type HistoryCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// UpdateCheckPayload carries the bulk update push flags
type UpdateCheckPayload struct {
	Force bool `json:"force"`
}

// Stats are point-in-time counts per state for one queue
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
