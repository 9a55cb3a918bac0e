package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Repository provides database operations for fleet state
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new state repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateHost creates a new host record
func (r *Repository) CreateHost(ctx context.Context, host *Host) error {
	if host.ID == uuid.Nil {
		host.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(host).Error; err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}

	return nil
}

// GetHost retrieves a host by ID
func (r *Repository) GetHost(ctx context.Context, id uuid.UUID) (*Host, error) {
	var host Host

	if err := r.db.WithContext(ctx).First(&host, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	return &host, nil
}

// GetHostByIdentity retrieves a host by its opaque agent API identity
func (r *Repository) GetHostByIdentity(ctx context.Context, identity string) (*Host, error) {
	var host Host

	if err := r.db.WithContext(ctx).First(&host, "api_identity = ?", identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get host by identity: %w", err)
	}

	return &host, nil
}

// UpdateHostStatus updates a host's status and last-seen timestamp
func (r *Repository) UpdateHostStatus(ctx context.Context, id uuid.UUID, status string, seenAt time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&Host{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_seen_at": seenAt}).Error; err != nil {
		return fmt.Errorf("failed to update host status: %w", err)
	}

	return nil
}

// UpdateHostAgentVersion records the version an agent last reported
func (r *Repository) UpdateHostAgentVersion(ctx context.Context, id uuid.UUID, version string) error {
	if err := r.db.WithContext(ctx).
		Model(&Host{}).
		Where("id = ?", id).
		Update("agent_version", version).Error; err != nil {
		return fmt.Errorf("failed to update host agent version: %w", err)
	}

	return nil
}

// UpsertJobHistory writes the audit row for a job, creating it on the first
// attempt and updating the same row in place on every later attempt.
func (r *Repository) UpsertJobHistory(ctx context.Context, rec *JobHistoryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "attempt", "error", "finished_at", "updated_at",
			}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert job history: %w", err)
	}

	return nil
}

// GetJobHistory retrieves the audit row for a job ID
func (r *Repository) GetJobHistory(ctx context.Context, jobID string) (*JobHistoryRecord, error) {
	var rec JobHistoryRecord

	if err := r.db.WithContext(ctx).First(&rec, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job history: %w", err)
	}

	return &rec, nil
}

// ListHostJobHistory retrieves persisted job history rows for a host,
// most recent first
func (r *Repository) ListHostJobHistory(ctx context.Context, hostID uuid.UUID, limit, offset int) ([]JobHistoryRecord, error) {
	var recs []JobHistoryRecord

	query := r.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset)

	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list host job history: %w", err)
	}

	return recs, nil
}

// DeleteJobHistoryBefore prunes job history rows older than the cutoff
func (r *Repository) DeleteJobHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&JobHistoryRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CreateTrackedImage creates a tracked image record
func (r *Repository) CreateTrackedImage(ctx context.Context, img *TrackedImage) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("failed to create tracked image: %w", err)
	}

	return nil
}

// ListPollableImages retrieves tracked images that carry a registry digest.
// Images without one were built locally and cannot be compared upstream.
func (r *Repository) ListPollableImages(ctx context.Context) ([]TrackedImage, error) {
	var images []TrackedImage

	if err := r.db.WithContext(ctx).
		Where("digest <> ''").
		Order("repository, tag").
		Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list pollable images: %w", err)
	}

	return images, nil
}

// TouchImageChecked refreshes an image's last-checked timestamp
func (r *Repository) TouchImageChecked(ctx context.Context, imageID uuid.UUID, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&TrackedImage{}).
		Where("id = ?", imageID).
		Update("last_checked_at", at).Error; err != nil {
		return fmt.Errorf("failed to touch image checked time: %w", err)
	}

	return nil
}

// UpsertImageUpdate records that an image's remote digest differs from the
// local one, replacing any previous record for the same (image, tag)
func (r *Repository) UpsertImageUpdate(ctx context.Context, rec *ImageUpdateRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tracked_image_id"}, {Name: "tag"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"local_digest", "remote_digest", "severity", "checked_at", "updated_at",
			}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert image update record: %w", err)
	}

	return nil
}

// DeleteImageUpdate removes the update record for an (image, tag), if any
func (r *Repository) DeleteImageUpdate(ctx context.Context, trackedImageID uuid.UUID, tag string) error {
	if err := r.db.WithContext(ctx).
		Where("tracked_image_id = ? AND tag = ?", trackedImageID, tag).
		Delete(&ImageUpdateRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete image update record: %w", err)
	}

	return nil
}

// GetImageUpdate retrieves the update record for an (image, tag)
func (r *Repository) GetImageUpdate(ctx context.Context, trackedImageID uuid.UUID, tag string) (*ImageUpdateRecord, error) {
	var rec ImageUpdateRecord

	if err := r.db.WithContext(ctx).
		First(&rec, "tracked_image_id = ? AND tag = ?", trackedImageID, tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get image update record: %w", err)
	}

	return &rec, nil
}

// GetSetting retrieves a setting value by key
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting

	if err := r.db.WithContext(ctx).First(&setting, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}

	return setting.Value, nil
}

// GetPollIntervalMinutes returns the configured fleet polling interval
func (r *Repository) GetPollIntervalMinutes(ctx context.Context) (int, error) {
	raw, err := r.GetSetting(ctx, SettingPollIntervalMinutes)
	if err != nil {
		return 0, err
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse poll interval: %w", err)
	}

	return minutes, nil
}

// SetSetting writes a setting value, creating the row if needed
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now()}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}

	return nil
}
