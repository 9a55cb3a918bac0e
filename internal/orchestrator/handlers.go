package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/queue"
	"github.com/alvesdmateus/fleet-commander/internal/registry"
	"github.com/alvesdmateus/fleet-commander/internal/state"
	"github.com/alvesdmateus/fleet-commander/internal/version"
)

// Pusher delivers one-way commands to connected agents
type Pusher interface {
	Push(id string, cmd command.Command) bool
}

// Updater negotiates agent version updates
type Updater interface {
	CheckAndPush(id, agentVersion string, force bool) version.Decision
	CheckAndPushAll(force bool) command.BroadcastResult
}

// DigestPoller runs one pass over every tracked image
type DigestPoller interface {
	Run(ctx context.Context) (registry.RunResult, error)
}

// FeedRefresher re-reads the latest published release version
type FeedRefresher interface {
	Refresh(ctx context.Context) error
}

// Handlers holds the collaborators each automation job needs
type Handlers struct {
	repo       *state.Repository
	dispatcher Pusher
	updater    Updater
	poller     DigestPoller
	feed       FeedRefresher
	logger     zerolog.Logger
}

func NewHandlers(repo *state.Repository, dispatcher Pusher, updater Updater, poller DigestPoller, feed FeedRefresher, logger zerolog.Logger) *Handlers {
	return &Handlers{
		repo:       repo,
		dispatcher: dispatcher,
		updater:    updater,
		poller:     poller,
		feed:       feed,
		logger:     logger.With().Str("component", "job-handlers").Logger(),
	}
}

// handle runs one job to completion. A returned error means the attempt
// failed and the queue decides whether to retry. Unknown job types fail
// without retry ever succeeding, so they surface quickly in the failed list.
func (h *Handlers) handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReportRequest:
		return h.handleReportRequest(job)
	case queue.JobTypeAgentUpdate:
		return h.handleAgentUpdate(job)
	case queue.JobTypeImagePoll:
		return h.handleImagePoll(ctx, job)
	case queue.JobTypeHistoryCleanup:
		return h.handleHistoryCleanup(ctx, job)
	case queue.JobTypeUpdateCheck:
		return h.handleUpdateCheck(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (h *Handlers) handleReportRequest(job *queue.Job) error {
	var payload queue.ReportRequestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode report request payload: %w", err)
	}
	if payload.AgentID == "" {
		payload.AgentID = job.AgentID
	}

	if !h.dispatcher.Push(payload.AgentID, command.ReportNow{}) {
		return fmt.Errorf("agent %s is not connected", payload.AgentID)
	}

	h.logger.Debug().Str("agent_id", payload.AgentID).Msg("Report request delivered")
	return nil
}

func (h *Handlers) handleAgentUpdate(job *queue.Job) error {
	var payload queue.AgentUpdatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode agent update payload: %w", err)
	}
	if payload.AgentID == "" {
		payload.AgentID = job.AgentID
	}

	decision := h.updater.CheckAndPush(payload.AgentID, payload.AgentVersion, payload.Force)

	h.logger.Info().
		Str("agent_id", payload.AgentID).
		Str("reason", decision.Reason).
		Bool("needs_update", decision.NeedsUpdate).
		Str("target_version", decision.TargetVersion).
		Msg("Agent update negotiated")

	return nil
}

func (h *Handlers) handleImagePoll(ctx context.Context, job *queue.Job) error {
	result, err := h.poller.Run(ctx)
	if err != nil {
		return fmt.Errorf("image poll run: %w", err)
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Int("cleared", result.Cleared).
		Int("errors", result.Errors).
		Msg("Image poll completed")

	return nil
}

func (h *Handlers) handleHistoryCleanup(ctx context.Context, job *queue.Job) error {
	payload := queue.HistoryCleanupPayload{RetentionDays: defaultHistoryRetentionDays}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode cleanup payload: %w", err)
		}
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = defaultHistoryRetentionDays
	}

	cutoff := time.Now().AddDate(0, 0, -payload.RetentionDays)
	removed, err := h.repo.DeleteJobHistoryBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete job history: %w", err)
	}

	h.logger.Info().
		Int64("removed", removed).
		Int("retention_days", payload.RetentionDays).
		Msg("Job history cleaned up")

	return nil
}

func (h *Handlers) handleUpdateCheck(ctx context.Context, job *queue.Job) error {
	var payload queue.UpdateCheckPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode update check payload: %w", err)
		}
	}

	// A stale feed is not fatal: the negotiator falls back to the last
	// known version, or reports no-latest-version if none was ever fetched.
	if err := h.feed.Refresh(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Release feed refresh failed, using cached version")
	}

	result := h.updater.CheckAndPushAll(payload.Force)

	h.logger.Info().
		Int("notified", result.Notified).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Msg("Fleet update check completed")

	return nil
}
