package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/fleet-commander/internal/state"
)

// SeverityDigestChange marks update records produced by digest comparison.
// No CVE or severity classification exists at this layer.
const SeverityDigestChange = "digest-change"

// ImageStore is the slice of the state repository the poller needs
type ImageStore interface {
	ListPollableImages(ctx context.Context) ([]state.TrackedImage, error)
	TouchImageChecked(ctx context.Context, imageID uuid.UUID, at time.Time) error
	UpsertImageUpdate(ctx context.Context, rec *state.ImageUpdateRecord) error
	DeleteImageUpdate(ctx context.Context, trackedImageID uuid.UUID, tag string) error
}

// ManifestClient fetches remote manifest digests
type ManifestClient interface {
	HeadDigest(ctx context.Context, ref Reference) (string, error)
}

// RunResult summarizes one poll run
type RunResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Cleared int `json:"cleared"`
	Errors  int `json:"errors"`
}

// Poller detects newer container images by comparing stored digests against
// registry manifest digests, without pulling image bytes
type Poller struct {
	store       ImageStore
	client      ManifestClient
	batchSize   int
	batchDelay  time.Duration
	defaultHost string
	logger      zerolog.Logger
}

// NewPoller creates a digest poller
func NewPoller(store ImageStore, client ManifestClient, batchSize int, batchDelay time.Duration, defaultHost string, logger zerolog.Logger) *Poller {
	if batchSize < 1 {
		batchSize = 1
	}

	return &Poller{
		store:       store,
		client:      client,
		batchSize:   batchSize,
		batchDelay:  batchDelay,
		defaultHost: defaultHost,
		logger:      logger.With().Str("component", "digest-poller").Logger(),
	}
}

// Run polls every tracked image with a stored digest. Images are processed
// in fixed-size batches with a short pause between batches to stay inside
// registry rate limits; individual failures are counted and never abort
// the run.
func (p *Poller) Run(ctx context.Context) (RunResult, error) {
	images, err := p.store.ListPollableImages(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("list pollable images: %w", err)
	}

	p.logger.Info().Int("images", len(images)).Msg("Starting digest poll run")

	var (
		mu     sync.Mutex
		result RunResult
	)

	for start := 0; start < len(images); start += p.batchSize {
		end := start + p.batchSize
		if end > len(images) {
			end = len(images)
		}

		var wg sync.WaitGroup
		for _, img := range images[start:end] {
			wg.Add(1)
			go func(img state.TrackedImage) {
				defer wg.Done()

				outcome := p.checkImage(ctx, img)

				mu.Lock()
				result.Checked++
				switch outcome {
				case outcomeUpdated:
					result.Updated++
				case outcomeCleared:
					result.Cleared++
				case outcomeError:
					result.Errors++
				}
				mu.Unlock()
			}(img)
		}
		wg.Wait()

		if end < len(images) && p.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(p.batchDelay):
			}
		}
	}

	p.logger.Info().
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Int("cleared", result.Cleared).
		Int("errors", result.Errors).
		Msg("Digest poll run finished")

	return result, nil
}

type checkOutcome int

const (
	outcomeUpdated checkOutcome = iota
	outcomeCleared
	outcomeError
)

// checkImage polls one image. The last-checked timestamp is refreshed on
// every outcome, including failures, so stalled images are visible.
func (p *Poller) checkImage(ctx context.Context, img state.TrackedImage) checkOutcome {
	defer func() {
		if err := p.store.TouchImageChecked(ctx, img.ID, time.Now()); err != nil {
			p.logger.Error().Err(err).Str("image", img.Repository).Msg("Failed to record image check time")
		}
	}()

	ref := ParseReference(img.Repository, img.Tag, p.defaultHost)

	remoteDigest, err := p.client.HeadDigest(ctx, ref)
	if err != nil {
		p.logger.Warn().Err(err).Str("image", ref.String()).Msg("Digest check failed")
		return outcomeError
	}

	local := NormalizeDigest(img.Digest)
	remote := NormalizeDigest(remoteDigest)

	if local == remote {
		// Self-healing: an update record only exists while digests differ
		if err := p.store.DeleteImageUpdate(ctx, img.ID, img.Tag); err != nil {
			p.logger.Error().Err(err).Str("image", ref.String()).Msg("Failed to clear image update record")
			return outcomeError
		}
		return outcomeCleared
	}

	rec := &state.ImageUpdateRecord{
		TrackedImageID: img.ID,
		Tag:            img.Tag,
		LocalDigest:    local,
		RemoteDigest:   remote,
		Severity:       SeverityDigestChange,
		CheckedAt:      time.Now(),
	}
	if err := p.store.UpsertImageUpdate(ctx, rec); err != nil {
		p.logger.Error().Err(err).Str("image", ref.String()).Msg("Failed to record image update")
		return outcomeError
	}

	p.logger.Info().
		Str("image", ref.String()).
		Str("local_digest", local).
		Str("remote_digest", remote).
		Msg("Image update detected")

	return outcomeUpdated
}
