package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/queue"
	"github.com/alvesdmateus/fleet-commander/internal/state"
)

// Automation names. Each automation owns one durable queue of the same name.
const (
	AutomationReportRequest  = "report-request"
	AutomationAgentUpdate    = "agent-update"
	AutomationImagePoll      = "image-poll"
	AutomationHistoryCleanup = "history-cleanup"
	AutomationUpdateCheck    = "update-check"
)

// Automations lists every automation in a stable order
var Automations = []string{
	AutomationReportRequest,
	AutomationAgentUpdate,
	AutomationImagePoll,
	AutomationHistoryCleanup,
	AutomationUpdateCheck,
}

// Default retention for history cleanup runs, in days
const defaultHistoryRetentionDays = 30

// Config holds broker location and queue-level policies
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxAttempts   int
	Retention     int
	BackoffBase   time.Duration
}

// ConnectedLister is the slice of the hub the engine needs for bulk fan-out
type ConnectedLister interface {
	ConnectedIDs() []string
}

// HostJobs combines the live queue view with persisted history for one host
type HostJobs struct {
	Pending int                      `json:"pending"`
	History []state.JobHistoryRecord `json:"history"`
}

// Engine owns every automation queue and is the only way collaborators
// enqueue or inspect fleet jobs
type Engine struct {
	client *redis.Client
	queues map[string]*queue.Queue
	repo   *state.Repository
	conns  ConnectedLister
	logger zerolog.Logger
}

// Initialize connects to the broker and creates one queue handle per
// automation. An unreachable broker aborts startup; the engine never runs
// half-initialized.
func Initialize(cfg Config, repo *state.Repository, conns ConnectedLister, logger zerolog.Logger) (*Engine, error) {
	client, err := queue.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("initialize orchestrator: %w", err)
	}

	retry := queue.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     queue.BackoffExponential,
		BaseDelay:   cfg.BackoffBase,
	}

	queues := make(map[string]*queue.Queue, len(Automations))
	for _, name := range Automations {
		queues[name] = queue.New(client, name, retry, cfg.Retention, logger)
	}

	logger.Info().
		Str("component", "orchestrator").
		Str("redis_addr", cfg.RedisAddr).
		Int("queues", len(queues)).
		Msg("Orchestrator initialized")

	return &Engine{
		client: client,
		queues: queues,
		repo:   repo,
		conns:  conns,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Ping checks broker reachability
func (e *Engine) Ping(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

// Queue returns the handle for a named automation queue
func (e *Engine) Queue(name string) (*queue.Queue, error) {
	q, ok := e.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown automation: %s", name)
	}
	return q, nil
}

// Queues returns every queue handle
func (e *Engine) Queues() []*queue.Queue {
	out := make([]*queue.Queue, 0, len(e.queues))
	for _, name := range Automations {
		out = append(out, e.queues[name])
	}
	return out
}

// Trigger enqueues one ad-hoc run of an automation at elevated priority so
// it is picked up ahead of routine scheduled work. Triggers are not
// deduplicated: two rapid calls enqueue two independent jobs.
func (e *Engine) Trigger(ctx context.Context, name string) (*queue.Job, error) {
	return e.enqueueAutomation(ctx, name, true)
}

// EnqueueScheduled enqueues one routine run of an automation, used by the
// recurring scheduler
func (e *Engine) EnqueueScheduled(ctx context.Context, name string) (*queue.Job, error) {
	return e.enqueueAutomation(ctx, name, false)
}

func (e *Engine) enqueueAutomation(ctx context.Context, name string, priority bool) (*queue.Job, error) {
	q, err := e.Queue(name)
	if err != nil {
		return nil, err
	}

	job := &queue.Job{
		ID:       uuid.New().String(),
		Type:     queue.JobType(name),
		Priority: priority,
	}

	switch name {
	case AutomationHistoryCleanup:
		payload, err := json.Marshal(queue.HistoryCleanupPayload{RetentionDays: defaultHistoryRetentionDays})
		if err != nil {
			return nil, fmt.Errorf("marshal cleanup payload: %w", err)
		}
		job.Payload = payload
	case AutomationUpdateCheck:
		payload, err := json.Marshal(queue.UpdateCheckPayload{})
		if err != nil {
			return nil, fmt.Errorf("marshal update check payload: %w", err)
		}
		job.Payload = payload
	}

	if err := q.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", name, err)
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("automation", name).
		Bool("priority", priority).
		Msg("Automation job enqueued")

	return job, nil
}

// EnqueueReportRequest asks one agent to report immediately
func (e *Engine) EnqueueReportRequest(ctx context.Context, agentID string) (*queue.Job, error) {
	q, err := e.Queue(AutomationReportRequest)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(queue.ReportRequestPayload{AgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("marshal report request payload: %w", err)
	}

	job := &queue.Job{
		ID:       uuid.New().String(),
		Type:     queue.JobTypeReportRequest,
		AgentID:  agentID,
		Payload:  payload,
		Priority: true,
	}

	if err := q.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue report request: %w", err)
	}

	return job, nil
}

// EnqueueReportAll submits one report-request job per currently connected
// agent, all sharing one retry policy. Agents that connect after the
// snapshot are not included.
func (e *Engine) EnqueueReportAll(ctx context.Context) (int, error) {
	q, err := e.Queue(AutomationReportRequest)
	if err != nil {
		return 0, err
	}

	ids := e.conns.ConnectedIDs()
	jobs := make([]*queue.Job, 0, len(ids))
	for _, id := range ids {
		payload, err := json.Marshal(queue.ReportRequestPayload{AgentID: id})
		if err != nil {
			return 0, fmt.Errorf("marshal report request payload: %w", err)
		}
		jobs = append(jobs, &queue.Job{
			Type:    queue.JobTypeReportRequest,
			AgentID: id,
			Payload: payload,
		})
	}

	if err := q.EnqueueBulk(ctx, jobs); err != nil {
		return 0, fmt.Errorf("enqueue bulk report requests: %w", err)
	}

	e.logger.Info().Int("agents", len(jobs)).Msg("Bulk report requests enqueued")
	return len(jobs), nil
}

// EnqueueAgentUpdate submits an update negotiation job for one agent
func (e *Engine) EnqueueAgentUpdate(ctx context.Context, agentID, agentVersion string, force bool) (*queue.Job, error) {
	q, err := e.Queue(AutomationAgentUpdate)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(queue.AgentUpdatePayload{
		AgentID:      agentID,
		AgentVersion: agentVersion,
		Force:        force,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal agent update payload: %w", err)
	}

	job := &queue.Job{
		ID:       uuid.New().String(),
		Type:     queue.JobTypeAgentUpdate,
		AgentID:  agentID,
		Payload:  payload,
		Priority: true,
	}

	if err := q.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue agent update: %w", err)
	}

	return job, nil
}

// GetStats returns point-in-time counts for one queue
func (e *Engine) GetStats(ctx context.Context, name string) (queue.Stats, error) {
	q, err := e.Queue(name)
	if err != nil {
		return queue.Stats{}, err
	}
	return q.GetStats(ctx)
}

// GetAllStats returns counts for every queue. Each queue is queried
// independently; this is not a consistent cross-queue snapshot.
func (e *Engine) GetAllStats(ctx context.Context) (map[string]queue.Stats, error) {
	out := make(map[string]queue.Stats, len(e.queues))
	for name, q := range e.queues {
		stats, err := q.GetStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("stats for queue %s: %w", name, err)
		}
		out[name] = stats
	}
	return out, nil
}

// GetRecentJobs returns finished jobs for one queue, newest first
func (e *Engine) GetRecentJobs(ctx context.Context, name string, limit int) ([]queue.Job, error) {
	q, err := e.Queue(name)
	if err != nil {
		return nil, err
	}
	return q.RecentJobs(ctx, limit)
}

// GetHostJobs combines a live pending count across all queues with a
// paginated read of the host's persisted job history
func (e *Engine) GetHostJobs(ctx context.Context, hostID uuid.UUID, agentID string, limit int) (HostJobs, error) {
	pending := 0
	for _, q := range e.queues {
		n, err := q.CountForAgent(ctx, agentID)
		if err != nil {
			return HostJobs{}, fmt.Errorf("count pending jobs: %w", err)
		}
		pending += n
	}

	history, err := e.repo.ListHostJobHistory(ctx, hostID, limit, 0)
	if err != nil {
		return HostJobs{}, err
	}

	return HostJobs{Pending: pending, History: history}, nil
}

// Shutdown closes every queue, then releases the broker connection last.
// A queue that fails to close does not stop the rest from being attempted.
func (e *Engine) Shutdown() error {
	var firstErr error

	for name, q := range e.queues {
		if err := q.Close(); err != nil {
			e.logger.Error().Err(err).Str("queue", name).Msg("Failed to close queue")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := e.client.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close broker connection")
		if firstErr == nil {
			firstErr = err
		}
	}

	e.logger.Info().Msg("Orchestrator shut down")
	return firstErr
}
