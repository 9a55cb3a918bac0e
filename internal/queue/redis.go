package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a queue after Close
var ErrClosed = errors.New("queue is closed")

// defaultVisibility bounds how long a claimed job may sit in the active set
// before it is treated as abandoned and requeued.
const defaultVisibility = 5 * time.Minute

// Connect opens and verifies the broker connection. A broker that cannot
// be reached is a startup failure, not something to limp along without.
func Connect(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

// Queue is one named durable job queue backed by the shared broker
// connection. Job state lives entirely in the broker, so it survives
// process restarts.
type Queue struct {
	name       string
	client     *redis.Client
	retention  int64
	retry      RetryPolicy
	visibility time.Duration
	logger     zerolog.Logger
	closed     atomic.Bool
}

// New creates a queue handle. The retry policy is the default stamped onto
// jobs that do not carry their own.
func New(client *redis.Client, name string, retry RetryPolicy, retention int, logger zerolog.Logger) *Queue {
	return &Queue{
		name:       name,
		client:     client,
		retention:  int64(retention),
		retry:      retry,
		visibility: defaultVisibility,
		logger:     logger.With().Str("component", "queue").Str("queue", name).Logger(),
	}
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string {
	return "fleet:queue:" + q.name + ":" + suffix
}

func (q *Queue) waitingKey() string   { return q.key("waiting") }
func (q *Queue) priorityKey() string  { return q.key("priority") }
func (q *Queue) delayedKey() string   { return q.key("delayed") }
func (q *Queue) activeKey() string    { return q.key("active") }
func (q *Queue) claimsKey() string    { return q.key("claims") }
func (q *Queue) completedKey() string { return q.key("completed") }
func (q *Queue) failedKey() string    { return q.key("failed") }

// Enqueue adds a job. Priority jobs go to the head-of-line list consumed
// before routine work; everything else is FIFO.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if q.closed.Load() {
		return ErrClosed
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Queue = q.name
	job.State = StateWaiting
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Retry.MaxAttempts == 0 {
		job.Retry = q.retry
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := q.waitingKey()
	if job.Priority {
		key = q.priorityKey()
	}

	if err := q.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Bool("priority", job.Priority).
		Msg("Job enqueued")

	return nil
}

// EnqueueBulk submits many jobs in one broker round-trip, all sharing their
// own pre-stamped retry policies
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []*Job) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		job.Queue = q.name
		job.State = StateWaiting
		if job.CreatedAt.IsZero() {
			job.CreatedAt = time.Now()
		}
		if job.Retry.MaxAttempts == 0 {
			job.Retry = q.retry
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		key := q.waitingKey()
		if job.Priority {
			key = q.priorityKey()
		}
		pipe.RPush(ctx, key, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue jobs: %w", err)
	}

	q.logger.Info().Int("jobs", len(jobs)).Msg("Bulk jobs enqueued")
	return nil
}

// Dequeue promotes due delayed jobs, then blocks for the next job. Priority
// jobs are consumed ahead of routine scheduled work. Returns nil with no
// error when the timeout elapses without work.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}

	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}
	if err := q.reclaimAbandoned(ctx); err != nil {
		return nil, err
	}

	result, err := q.client.BLPop(ctx, timeout, q.priorityKey(), q.waitingKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No job available within the timeout, not an error
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	// BLPOP returns [key, value]
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected redis response: %v", result)
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	now := time.Now()
	job.State = StateActive
	job.Attempts++
	job.StartedAt = &now

	data, err := json.Marshal(&job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal active job: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.activeKey(), job.ID, data)
	pipe.ZAdd(ctx, q.claimsKey(), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark job active: %w", err)
	}

	q.logger.Debug().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Int("attempt", job.Attempts).
		Msg("Job dequeued")

	return &job, nil
}

// promoteDelayed moves jobs whose backoff has elapsed back to the waiting
// list. Retried jobs re-enter at the tail, not the head.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	entries, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, entry := range entries {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), entry).Result()
		if err != nil {
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
		if removed == 0 {
			// Another worker promoted it first
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			q.logger.Error().Err(err).Msg("Dropping undecodable delayed job")
			continue
		}
		job.State = StateWaiting

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal promoted job: %w", err)
		}
		if err := q.client.RPush(ctx, q.waitingKey(), data).Err(); err != nil {
			return fmt.Errorf("failed to requeue promoted job: %w", err)
		}
	}

	return nil
}

// reclaimAbandoned requeues active jobs whose claim is older than the
// visibility window. A consumer process that dies mid-job never calls
// Complete or Fail, so its claims age out here and the jobs re-enter the
// waiting list for another worker.
func (q *Queue) reclaimAbandoned(ctx context.Context) error {
	cutoff := strconv.FormatInt(time.Now().Add(-q.visibility).UnixMilli(), 10)

	ids, err := q.client.ZRangeByScore(ctx, q.claimsKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read stale claims: %w", err)
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.claimsKey(), id).Result()
		if err != nil {
			return fmt.Errorf("failed to release stale claim: %w", err)
		}
		if removed == 0 {
			// Another worker reclaimed it first
			continue
		}

		entry, err := q.client.HGet(ctx, q.activeKey(), id).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Finished between the scan and the claim release
				continue
			}
			return fmt.Errorf("failed to read abandoned job: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			q.logger.Error().Err(err).Str("job_id", id).Msg("Dropping undecodable abandoned job")
			q.client.HDel(ctx, q.activeKey(), id)
			continue
		}
		job.State = StateWaiting
		job.StartedAt = nil

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal reclaimed job: %w", err)
		}

		pipe := q.client.Pipeline()
		pipe.HDel(ctx, q.activeKey(), id)
		pipe.RPush(ctx, q.waitingKey(), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to requeue abandoned job: %w", err)
		}

		q.logger.Warn().
			Str("job_id", id).
			Int("attempts", job.Attempts).
			Msg("Reclaimed abandoned job")
	}

	return nil
}

// Complete moves an active job to the completed list, trimmed to retention
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := time.Now()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.LastError = ""

	return q.finish(ctx, job, q.completedKey())
}

// Fail records a failed attempt. Before attempts are exhausted the job
// re-enters through the delayed set under its backoff policy; afterwards
// it lands on the failed list, trimmed to retention.
func (q *Queue) Fail(ctx context.Context, job *Job, jobErr error) error {
	job.LastError = jobErr.Error()

	if job.Attempts < job.Retry.MaxAttempts {
		job.State = StateDelayed

		pipe := q.client.Pipeline()
		pipe.HDel(ctx, q.activeKey(), job.ID)
		pipe.ZRem(ctx, q.claimsKey(), job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear active job: %w", err)
		}

		delay := job.Retry.Delay(job.Attempts)
		readyAt := time.Now().Add(delay)

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal delayed job: %w", err)
		}

		err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: data,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to delay job: %w", err)
		}

		q.logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", job.Attempts).
			Int("max_attempts", job.Retry.MaxAttempts).
			Dur("backoff_delay", delay).
			Msg("Job failed, retrying after backoff")

		return nil
	}

	now := time.Now()
	job.State = StateFailed
	job.FinishedAt = &now

	q.logger.Error().
		Str("job_id", job.ID).
		Int("attempts", job.Attempts).
		Str("last_error", job.LastError).
		Msg("Job failed permanently")

	return q.finish(ctx, job, q.failedKey())
}

func (q *Queue) finish(ctx context.Context, job *Job, key string) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal finished job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.HDel(ctx, q.activeKey(), job.ID)
	pipe.ZRem(ctx, q.claimsKey(), job.ID)
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, q.retention-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	return nil
}

// GetStats returns point-in-time counts per state
func (q *Queue) GetStats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitingKey())
	priority := pipe.LLen(ctx, q.priorityKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.HLen(ctx, q.activeKey())
	completed := pipe.LLen(ctx, q.completedKey())
	failed := pipe.LLen(ctx, q.failedKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return Stats{
		Waiting:   waiting.Val() + priority.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// RecentJobs merges completed and failed jobs, most recently finished
// first, capped at limit
func (q *Queue) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}

	jobs := make([]Job, 0, limit)
	for _, key := range []string{q.completedKey(), q.failedKey()} {
		entries, err := q.client.LRange(ctx, key, 0, int64(limit)-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read finished jobs: %w", err)
		}
		for _, entry := range entries {
			var job Job
			if err := json.Unmarshal([]byte(entry), &job); err != nil {
				continue
			}
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		var ti, tj time.Time
		if jobs[i].FinishedAt != nil {
			ti = *jobs[i].FinishedAt
		}
		if jobs[j].FinishedAt != nil {
			tj = *jobs[j].FinishedAt
		}
		return ti.After(tj)
	})

	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

// CountForAgent counts non-terminal jobs targeting one agent identity
func (q *Queue) CountForAgent(ctx context.Context, agentID string) (int, error) {
	count := 0

	for _, key := range []string{q.waitingKey(), q.priorityKey()} {
		entries, err := q.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan queue for agent jobs: %w", err)
		}
		count += countAgentJobs(entries, agentID)
	}

	delayed, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan delayed jobs: %w", err)
	}
	count += countAgentJobs(delayed, agentID)

	active, err := q.client.HVals(ctx, q.activeKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan active jobs: %w", err)
	}
	count += countAgentJobs(active, agentID)

	return count, nil
}

func countAgentJobs(entries []string, agentID string) int {
	count := 0
	for _, entry := range entries {
		var job Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			continue
		}
		if job.AgentID == agentID {
			count++
		}
	}
	return count
}

// Close marks the queue handle closed. The shared broker connection is
// owned by the orchestrator and released after all queues are closed.
func (q *Queue) Close() error {
	q.closed.Store(true)
	q.logger.Info().Msg("Queue closed")
	return nil
}
