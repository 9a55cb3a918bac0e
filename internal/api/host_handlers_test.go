package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/fleet-commander/internal/command"
	"github.com/alvesdmateus/fleet-commander/internal/hub"
	"github.com/alvesdmateus/fleet-commander/internal/state"
	"github.com/alvesdmateus/fleet-commander/internal/version"
)

type fakeUpdater struct {
	calls []updaterCall
}

type updaterCall struct {
	id           string
	agentVersion string
	force        bool
}

func (f *fakeUpdater) CheckAndPush(id, agentVersion string, force bool) version.Decision {
	f.calls = append(f.calls, updaterCall{id: id, agentVersion: agentVersion, force: force})
	return version.Decision{
		NeedsUpdate:   true,
		Reason:        version.ReasonVersionOutdated,
		TargetVersion: "2.0.0",
	}
}

type fakePusher struct {
	pushed    []command.Command
	connected bool
}

func (f *fakePusher) Push(id string, cmd command.Command) bool {
	if !f.connected {
		return false
	}
	f.pushed = append(f.pushed, cmd)
	return true
}

func setupHostHandler(t *testing.T) (*state.Repository, *fakeUpdater, *fakePusher, chi.Router) {
	repo := setupTestRepo(t)
	updater := &fakeUpdater{}
	pusher := &fakePusher{connected: true}
	h := NewHostHandler(repo, hub.New(zerolog.Nop()), nil, updater, pusher)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/agents/version", h.ReportVersion)
		r.Route("/hosts/{id}", func(r chi.Router) {
			r.Get("/connection", h.GetConnection)
			r.Post("/update", h.UpdateHost)
			r.Post("/self-update", h.SelfUpdate)
		})
	})

	return repo, updater, pusher, r
}

func TestUpdateHostInvalidID(t *testing.T) {
	_, _, _, router := setupHostHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/not-a-uuid/update", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateHostNotFound(t *testing.T) {
	_, _, _, router := setupHostHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/"+uuid.New().String()+"/update", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateHostForwardsForceFlag(t *testing.T) {
	repo, updater, _, router := setupHostHandler(t)

	host := &state.Host{Name: "web-1", APIIdentity: "identity-1", AgentVersion: "1.0.0", Status: state.HostStatusOnline}
	require.NoError(t, repo.CreateHost(context.Background(), host))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/"+host.ID.String()+"/update?force=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, updater.calls, 1)
	assert.Equal(t, "identity-1", updater.calls[0].id)
	assert.Equal(t, "1.0.0", updater.calls[0].agentVersion)
	assert.True(t, updater.calls[0].force)

	var decision version.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.NeedsUpdate)
	assert.Equal(t, "2.0.0", decision.TargetVersion)
}

func TestGetConnectionForDisconnectedHost(t *testing.T) {
	repo, _, _, router := setupHostHandler(t)

	host := &state.Host{Name: "web-1", APIIdentity: "identity-1", Status: state.HostStatusOffline}
	require.NoError(t, repo.CreateHost(context.Background(), host))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/"+host.ID.String()+"/connection", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var info hub.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.False(t, info.Connected)
}

func TestReportVersionRequiresIdentity(t *testing.T) {
	_, _, _, router := setupHostHandler(t)

	body := bytes.NewBufferString(`{"version": "1.2.3"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/version", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReportVersionUnknownIdentity(t *testing.T) {
	_, _, _, router := setupHostHandler(t)

	body := bytes.NewBufferString(`{"version": "1.2.3"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/version", body)
	req.Header.Set(hub.IdentityHeader, "ghost")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReportVersionPersistsAndNegotiates(t *testing.T) {
	repo, updater, _, router := setupHostHandler(t)
	ctx := context.Background()

	host := &state.Host{Name: "web-1", APIIdentity: "identity-1", AgentVersion: "1.0.0", Status: state.HostStatusOnline}
	require.NoError(t, repo.CreateHost(ctx, host))

	body := bytes.NewBufferString(`{"version": "1.2.3"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/version", body)
	req.Header.Set(hub.IdentityHeader, "identity-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	got, err := repo.GetHost(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", got.AgentVersion)

	require.Len(t, updater.calls, 1)
	assert.Equal(t, "identity-1", updater.calls[0].id)
	assert.Equal(t, "1.2.3", updater.calls[0].agentVersion)
	assert.False(t, updater.calls[0].force)
}

func TestReportVersionRejectsEmptyVersion(t *testing.T) {
	repo, _, _, router := setupHostHandler(t)

	host := &state.Host{Name: "web-1", APIIdentity: "identity-1", Status: state.HostStatusOnline}
	require.NoError(t, repo.CreateHost(context.Background(), host))

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/version", body)
	req.Header.Set(hub.IdentityHeader, "identity-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelfUpdatePushesCommand(t *testing.T) {
	repo, _, pusher, router := setupHostHandler(t)

	host := &state.Host{Name: "web-1", APIIdentity: "identity-1", Status: state.HostStatusOnline}
	require.NoError(t, repo.CreateHost(context.Background(), host))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/"+host.ID.String()+"/self-update", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, pusher.pushed, 1)
	assert.IsType(t, command.UpdateAgent{}, pusher.pushed[0])

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Self-update command sent", resp.Message)
}

func TestSelfUpdateDisconnectedAgentConflicts(t *testing.T) {
	repo, _, pusher, router := setupHostHandler(t)
	pusher.connected = false

	host := &state.Host{Name: "web-1", APIIdentity: "identity-1", Status: state.HostStatusOffline}
	require.NoError(t, repo.CreateHost(context.Background(), host))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/"+host.ID.String()+"/self-update", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, pusher.pushed)
}
