package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/orchestrator"
	"github.com/alvesdmateus/fleet-commander/internal/state"
)

type fakeBroadcaster struct {
	commands []command.Command
}

func (f *fakeBroadcaster) PushToAll(cmd command.Command) command.BroadcastResult {
	f.commands = append(f.commands, cmd)
	return command.BroadcastResult{Notified: 2, Total: 2}
}

type fakeScheduler struct {
	registered map[string]orchestrator.Schedule
}

func (f *fakeScheduler) Register(name string, sched orchestrator.Schedule) {
	if f.registered == nil {
		f.registered = make(map[string]orchestrator.Schedule)
	}
	f.registered[name] = sched
}

func setupSettingsHandler(t *testing.T) (*state.Repository, *fakeBroadcaster, *fakeScheduler, chi.Router) {
	repo := setupTestRepo(t)
	broadcast := &fakeBroadcaster{}
	scheduler := &fakeScheduler{}
	h := NewSettingsHandler(repo, broadcast, scheduler)

	r := chi.NewRouter()
	r.Put("/api/v1/settings/poll-interval", h.PutPollInterval)
	r.Put("/api/v1/settings/integrations/{name}", h.PutIntegration)

	return repo, broadcast, scheduler, r
}

func TestPutPollInterval(t *testing.T) {
	repo, broadcast, scheduler, router := setupSettingsHandler(t)

	body := bytes.NewBufferString(`{"interval_minutes": 10}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/poll-interval", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	value, err := repo.GetSetting(context.Background(), state.SettingPollIntervalMinutes)
	require.NoError(t, err)
	assert.Equal(t, "10", value)

	sched, ok := scheduler.registered[orchestrator.AutomationUpdateCheck]
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, sched.Every)

	require.Len(t, broadcast.commands, 1)
	update, ok := broadcast.commands[0].(command.SettingsUpdate)
	require.True(t, ok)
	assert.Equal(t, 10, update.IntervalMinutes)
}

func TestPutPollIntervalRejectsNonPositive(t *testing.T) {
	_, broadcast, _, router := setupSettingsHandler(t)

	body := bytes.NewBufferString(`{"interval_minutes": 0}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/poll-interval", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, broadcast.commands)
}

func TestPutIntegrationToggle(t *testing.T) {
	repo, broadcast, _, router := setupSettingsHandler(t)

	body := bytes.NewBufferString(`{"enabled": true}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/integrations/metrics", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	value, err := repo.GetSetting(context.Background(), state.SettingIntegrationPrefix+"metrics")
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	require.Len(t, broadcast.commands, 1)
	toggle, ok := broadcast.commands[0].(command.IntegrationToggle)
	require.True(t, ok)
	assert.Equal(t, "metrics", toggle.Name)
	assert.True(t, toggle.Enabled)
}
