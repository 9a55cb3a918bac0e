package state

import (
	"time"

	"github.com/google/uuid"
)

// Host statuses
const (
	HostStatusOnline  = "online"
	HostStatusOffline = "offline"
)

// Job history statuses
const (
	HistoryStatusActive    = "active"
	HistoryStatusCompleted = "completed"
	HistoryStatusFailed    = "failed"
)

// Host is a managed machine running a fleet agent
type Host struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key"`
	Name         string    `gorm:"not null"`
	APIIdentity  string    `gorm:"uniqueIndex;not null"`
	AgentVersion string
	Status       string `gorm:"not null;default:offline"`
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobHistoryRecord is the audit row for an agent-targeted job.
// Exactly one row exists per job ID; retries update it in place, so the
// row always reflects the most recent attempt.
type JobHistoryRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key"`
	JobID      string    `gorm:"uniqueIndex;not null"`
	HostID     uuid.UUID `gorm:"type:uuid;index;not null"`
	Queue      string    `gorm:"not null"`
	Type       string    `gorm:"not null"`
	Status     string    `gorm:"not null"`
	Attempt    int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TrackedImage is a container image observed on a host. Images without a
// stored digest were built locally and are skipped by the digest poller.
type TrackedImage struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	HostID        uuid.UUID `gorm:"type:uuid;index"`
	Repository    string    `gorm:"not null"`
	Tag           string    `gorm:"not null"`
	LocalImageID  string
	Digest        string
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ImageUpdateRecord exists only while the local digest of a tracked image
// differs from the last observed remote digest for its tag.
type ImageUpdateRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	TrackedImageID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_image_tag;not null"`
	Tag            string    `gorm:"uniqueIndex:idx_image_tag;not null"`
	LocalDigest    string    `gorm:"not null"`
	RemoteDigest   string    `gorm:"not null"`
	Severity       string    `gorm:"not null"`
	CheckedAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Setting is a simple key/value configuration row
type Setting struct {
	Key       string `gorm:"primary_key"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

// Setting keys used by the orchestration core
const (
	SettingPollIntervalMinutes = "poll_interval_minutes"

	// SettingIntegrationPrefix namespaces per-integration enable flags
	SettingIntegrationPrefix = "integration:"
)

// Models returns every persisted model for migration
func Models() []interface{} {
	return []interface{}{
		&Host{},
		&JobHistoryRecord{},
		&TrackedImage{},
		&ImageUpdateRecord{},
		&Setting{},
	}
}
