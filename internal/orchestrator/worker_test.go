package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/alvesdmateus/fleet-commander/internal/queue"
	"github.com/alvesdmateus/fleet-commander/internal/state"
)

func setupAgentWorker(t *testing.T, pusher Pusher) (*Worker, *state.Repository, *gorm.DB) {
	db := setupHandlerDB(t)
	repo := state.NewRepository(db)

	engine := &Engine{repo: repo, logger: zerolog.Nop()}
	handlers := NewHandlers(repo, pusher, &fakeUpdater{}, &fakePoller{}, &fakeFeed{}, zerolog.Nop())
	worker := NewWorker(engine, handlers, time.Second, zerolog.Nop())

	return worker, repo, db
}

func reportJob(agentID string, attempt int) *queue.Job {
	payload, _ := json.Marshal(queue.ReportRequestPayload{AgentID: agentID})
	return &queue.Job{
		ID:       "job-1",
		Queue:    AutomationReportRequest,
		Type:     queue.JobTypeReportRequest,
		AgentID:  agentID,
		Payload:  payload,
		Attempts: attempt,
	}
}

func TestRunAgentJobRecordsCompletedHistory(t *testing.T) {
	worker, repo, _ := setupAgentWorker(t, &fakePusher{connected: true})
	ctx := context.Background()

	host := &state.Host{Name: "h", APIIdentity: "agent-1", Status: state.HostStatusOnline}
	require.NoError(t, repo.CreateHost(ctx, host))

	require.NoError(t, worker.runAgentJob(ctx, reportJob("agent-1", 1)))

	rec, err := repo.GetJobHistory(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.HistoryStatusCompleted, rec.Status)
	assert.Equal(t, host.ID, rec.HostID)
	assert.Equal(t, 1, rec.Attempt)
	assert.Empty(t, rec.Error)
	assert.NotNil(t, rec.FinishedAt)
}

func TestRunAgentJobKeepsOneRowAcrossRetries(t *testing.T) {
	pusher := &fakePusher{connected: false}
	worker, repo, db := setupAgentWorker(t, pusher)
	ctx := context.Background()

	host := &state.Host{Name: "h", APIIdentity: "agent-1", Status: state.HostStatusOnline}
	require.NoError(t, repo.CreateHost(ctx, host))

	require.Error(t, worker.runAgentJob(ctx, reportJob("agent-1", 1)))

	rec, err := repo.GetJobHistory(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.HistoryStatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)

	// The retry succeeds and rewrites the same row
	pusher.connected = true
	require.NoError(t, worker.runAgentJob(ctx, reportJob("agent-1", 2)))

	rec, err = repo.GetJobHistory(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.HistoryStatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.Attempt)
	assert.Empty(t, rec.Error)

	var count int64
	require.NoError(t, db.Model(&state.JobHistoryRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunAgentJobUnknownHost(t *testing.T) {
	worker, _, db := setupAgentWorker(t, &fakePusher{connected: true})
	ctx := context.Background()

	assert.Error(t, worker.runAgentJob(ctx, reportJob("ghost", 1)))

	var count int64
	require.NoError(t, db.Model(&state.JobHistoryRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}
