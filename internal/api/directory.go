package api

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/state"
)

// HostDirectory adapts the state repository to the hub's handshake and
// status-recording boundary
type HostDirectory struct {
	repo   *state.Repository
	logger zerolog.Logger
}

func NewHostDirectory(repo *state.Repository, logger zerolog.Logger) *HostDirectory {
	return &HostDirectory{
		repo:   repo,
		logger: logger.With().Str("component", "host-directory").Logger(),
	}
}

// ValidateIdentity reports whether an API identity maps to a registered host
func (d *HostDirectory) ValidateIdentity(ctx context.Context, identity string) (bool, error) {
	_, err := d.repo.GetHostByIdentity(ctx, identity)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordStatus persists a connect/disconnect transition on the host row
func (d *HostDirectory) RecordStatus(ctx context.Context, identity string, connected bool, at time.Time) {
	host, err := d.repo.GetHostByIdentity(ctx, identity)
	if err != nil {
		d.logger.Error().Err(err).Str("agent_id", identity).Msg("Failed to look up host for status update")
		return
	}

	status := state.HostStatusOffline
	if connected {
		status = state.HostStatusOnline
	}

	if err := d.repo.UpdateHostStatus(ctx, host.ID, status, at); err != nil {
		d.logger.Error().Err(err).Str("agent_id", identity).Msg("Failed to persist host status")
		return
	}

	d.logger.Info().
		Str("agent_id", identity).
		Str("status", status).
		Msg("Host connection status updated")
}
