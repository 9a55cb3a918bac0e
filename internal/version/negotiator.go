package version

import (
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/command"
)

// Decision reasons
const (
	ReasonNoLatestVersion = "no-latest-version"
	ReasonForceUpdate     = "force-update"
	ReasonVersionOutdated = "version-outdated"
	ReasonAgentOffline    = "agent-offline"
	ReasonUpToDate        = "up-to-date"
)

// Decision is the outcome of an update negotiation for one agent
type Decision struct {
	NeedsUpdate   bool   `json:"needs_update"`
	Reason        string `json:"reason"`
	Message       string `json:"message"`
	TargetVersion string `json:"target_version,omitempty"`
}

// LatestProvider supplies the cached latest published agent version
type LatestProvider interface {
	Latest() string
}

// ConnectionChecker answers whether an agent is reachable right now
type ConnectionChecker interface {
	IsConnected(id string) bool
}

// Pusher delivers commands to agents
type Pusher interface {
	Push(id string, cmd command.Command) bool
	PushToAll(cmd command.Command) command.BroadcastResult
}

// Negotiator decides per agent whether an update should be pushed
type Negotiator struct {
	feed        LatestProvider
	conns       ConnectionChecker
	dispatcher  Pusher
	downloadURL string
	logger      zerolog.Logger
}

// NewNegotiator creates a negotiator over the hub and dispatcher
func NewNegotiator(feed LatestProvider, conns ConnectionChecker, dispatcher Pusher, downloadURL string, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		feed:        feed,
		conns:       conns,
		dispatcher:  dispatcher,
		downloadURL: downloadURL,
		logger:      logger.With().Str("component", "negotiator").Logger(),
	}
}

// CheckAndPush decides whether the agent needs an update and, when it is
// reachable, pushes the update notification. An offline agent still gets a
// positive decision so callers can log it or let polling pick it up; no
// delivery is queued for later.
func (n *Negotiator) CheckAndPush(id, agentVersion string, force bool) Decision {
	latest := n.feed.Latest()

	// Never report up-to-date without ground truth
	if latest == "" {
		return Decision{
			NeedsUpdate: false,
			Reason:      ReasonNoLatestVersion,
			Message:     "latest agent version is unknown; upstream release feed unreachable",
		}
	}

	needsUpdate := force || Compare(agentVersion, latest) < 0
	if !needsUpdate {
		return Decision{
			NeedsUpdate:   false,
			Reason:        ReasonUpToDate,
			Message:       "agent is up to date",
			TargetVersion: latest,
		}
	}

	reason := ReasonVersionOutdated
	message := "a newer agent version is available"
	if force {
		reason = ReasonForceUpdate
		message = "agent update was requested by an operator"
	}

	if !n.conns.IsConnected(id) {
		n.logger.Info().
			Str("agent_id", id).
			Str("agent_version", agentVersion).
			Str("latest_version", latest).
			Msg("Agent needs update but is offline")

		return Decision{
			NeedsUpdate:   true,
			Reason:        ReasonAgentOffline,
			Message:       "agent needs an update but is not connected",
			TargetVersion: latest,
		}
	}

	n.dispatcher.Push(id, command.UpdateNotification{
		Version:     latest,
		Force:       force,
		DownloadURL: n.downloadURL,
		Message:     message,
	})

	n.logger.Info().
		Str("agent_id", id).
		Str("agent_version", agentVersion).
		Str("latest_version", latest).
		Bool("force", force).
		Str("reason", reason).
		Msg("Pushed update notification to agent")

	return Decision{
		NeedsUpdate:   true,
		Reason:        reason,
		Message:       message,
		TargetVersion: latest,
	}
}

// CheckAndPushAll pushes an update notification to every connected agent
// using the single cached latest version. Per-agent versions are not
// consulted; each agent decides locally whether the notification applies.
func (n *Negotiator) CheckAndPushAll(force bool) command.BroadcastResult {
	latest := n.feed.Latest()
	if latest == "" {
		n.logger.Warn().Msg("Skipping bulk update push, latest agent version unknown")
		return command.BroadcastResult{}
	}

	message := "a newer agent version is available"
	if force {
		message = "agent update was requested by an operator"
	}

	return n.dispatcher.PushToAll(command.UpdateNotification{
		Version:     latest,
		Force:       force,
		DownloadURL: n.downloadURL,
		Message:     message,
	})
}
