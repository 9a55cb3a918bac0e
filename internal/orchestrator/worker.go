package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/queue"
	"github.com/alvesdmateus/fleet-commander/internal/state"
)

const defaultPollTimeout = 5 * time.Second

// Worker consumes automation jobs. Each queue gets its own consumer
// goroutine processing one job at a time, so a long image poll never
// blocks report requests.
type Worker struct {
	engine      *Engine
	handlers    *Handlers
	pollTimeout time.Duration
	only        []string
	logger      zerolog.Logger
}

// NewWorker creates a consumer over the engine's queues. With no queue
// names given it consumes every queue; naming queues restricts it, which
// lets a separate worker process take the queues that do not need live
// agent connections.
func NewWorker(engine *Engine, handlers *Handlers, pollTimeout time.Duration, logger zerolog.Logger, only ...string) *Worker {
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Worker{
		engine:      engine,
		handlers:    handlers,
		pollTimeout: pollTimeout,
		only:        only,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

func (w *Worker) queues() []*queue.Queue {
	if len(w.only) == 0 {
		return w.engine.Queues()
	}
	out := make([]*queue.Queue, 0, len(w.only))
	for _, name := range w.only {
		if q, err := w.engine.Queue(name); err == nil {
			out = append(out, q)
		}
	}
	return out
}

// Start runs one consumer per queue and blocks until the context is
// cancelled and every consumer has drained its in-flight job
func (w *Worker) Start(ctx context.Context) {
	queues := w.queues()
	w.logger.Info().Int("queues", len(queues)).Msg("Worker started")

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *queue.Queue) {
			defer wg.Done()
			w.consume(ctx, q)
		}(q)
	}
	wg.Wait()

	w.logger.Info().Msg("Worker stopped")
}

func (w *Worker) consume(ctx context.Context, q *queue.Queue) {
	logger := w.logger.With().Str("queue", q.Name()).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Error().Err(err).Msg("Failed to dequeue job")
			time.Sleep(w.pollTimeout)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, q, job, logger)
	}
}

func (w *Worker) process(ctx context.Context, q *queue.Queue, job *queue.Job, logger zerolog.Logger) {
	logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("attempt", job.Attempts).
		Msg("Processing job")

	err := w.run(ctx, job)
	if err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("Job failed")
		if failErr := q.Fail(ctx, job, err); failErr != nil {
			logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
		}
		return
	}

	if err := q.Complete(ctx, job); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job completion")
		return
	}

	logger.Info().Str("job_id", job.ID).Msg("Job completed")
}

// run executes one job, recording a history row for agent-targeted jobs
func (w *Worker) run(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReportRequest, queue.JobTypeAgentUpdate:
		return w.runAgentJob(ctx, job)
	default:
		return w.handlers.handle(ctx, job)
	}
}

// runAgentJob wraps the handler with the job history lifecycle. A job keeps
// exactly one history row across all its attempts: the row is written when
// the attempt activates and rewritten in place on every transition.
func (w *Worker) runAgentJob(ctx context.Context, job *queue.Job) error {
	host, err := w.engine.repo.GetHostByIdentity(ctx, job.AgentID)
	if err != nil {
		return fmt.Errorf("lookup host for agent %s: %w", job.AgentID, err)
	}

	startedAt := time.Now()
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}

	rec := &state.JobHistoryRecord{
		JobID:     job.ID,
		HostID:    host.ID,
		Queue:     job.Queue,
		Type:      string(job.Type),
		Status:    state.HistoryStatusActive,
		Attempt:   job.Attempts,
		StartedAt: startedAt,
	}
	if err := w.engine.repo.UpsertJobHistory(ctx, rec); err != nil {
		return fmt.Errorf("record job activation: %w", err)
	}

	handlerErr := w.handlers.handle(ctx, job)

	finishedAt := time.Now()
	rec.FinishedAt = &finishedAt
	if handlerErr != nil {
		rec.Status = state.HistoryStatusFailed
		rec.Error = handlerErr.Error()
	} else {
		rec.Status = state.HistoryStatusCompleted
		rec.Error = ""
	}

	if err := w.engine.repo.UpsertJobHistory(ctx, rec); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to update job history")
	}

	return handlerErr
}
