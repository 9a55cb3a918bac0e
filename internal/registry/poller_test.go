package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/fleet-commander/internal/state"
)

type fakeImageStore struct {
	mu      sync.Mutex
	images  []state.TrackedImage
	touched map[uuid.UUID]int
	upserts []state.ImageUpdateRecord
	deletes []uuid.UUID
}

func newFakeImageStore(images ...state.TrackedImage) *fakeImageStore {
	return &fakeImageStore{images: images, touched: make(map[uuid.UUID]int)}
}

func (f *fakeImageStore) ListPollableImages(ctx context.Context) ([]state.TrackedImage, error) {
	return f.images, nil
}

func (f *fakeImageStore) TouchImageChecked(ctx context.Context, imageID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[imageID]++
	return nil
}

func (f *fakeImageStore) UpsertImageUpdate(ctx context.Context, rec *state.ImageUpdateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, *rec)
	return nil
}

func (f *fakeImageStore) DeleteImageUpdate(ctx context.Context, trackedImageID uuid.UUID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, trackedImageID)
	return nil
}

type fakeManifestClient struct {
	mu      sync.Mutex
	digests map[string]string
	errs    map[string]error
	calls   int
}

func (f *fakeManifestClient) HeadDigest(ctx context.Context, ref Reference) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[ref.Repository]; ok {
		return "", err
	}
	return f.digests[ref.Repository], nil
}

func trackedImage(repo, digest string) state.TrackedImage {
	return state.TrackedImage{
		ID:         uuid.New(),
		HostID:     uuid.New(),
		Repository: repo,
		Tag:        "latest",
		Digest:     digest,
	}
}

func newTestPoller(store ImageStore, client ManifestClient) *Poller {
	return NewPoller(store, client, 2, 0, "registry-1.docker.io", zerolog.Nop())
}

func TestPollerDetectsDigestChange(t *testing.T) {
	img := trackedImage("grafana/grafana", "sha256:old")
	store := newFakeImageStore(img)
	client := &fakeManifestClient{digests: map[string]string{"grafana/grafana": "sha256:new"}}

	result, err := newTestPoller(store, client).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunResult{Checked: 1, Updated: 1}, result)
	require.Len(t, store.upserts, 1)

	rec := store.upserts[0]
	assert.Equal(t, img.ID, rec.TrackedImageID)
	assert.Equal(t, "old", rec.LocalDigest)
	assert.Equal(t, "new", rec.RemoteDigest)
	assert.Equal(t, SeverityDigestChange, rec.Severity)
	assert.Equal(t, 1, store.touched[img.ID])
}

func TestPollerClearsStaleRecordOnMatch(t *testing.T) {
	img := trackedImage("nginx", "sha256:same")
	store := newFakeImageStore(img)
	client := &fakeManifestClient{digests: map[string]string{"library/nginx": "sha256:same"}}

	result, err := newTestPoller(store, client).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunResult{Checked: 1, Cleared: 1}, result)
	assert.Empty(t, store.upserts)
	assert.Equal(t, []uuid.UUID{img.ID}, store.deletes)
}

func TestPollerToleratesPerImageErrors(t *testing.T) {
	imgs := []state.TrackedImage{
		trackedImage("a/a", "sha256:1"),
		trackedImage("b/b", "sha256:2"),
		trackedImage("c/c", "sha256:3"),
		trackedImage("d/d", "sha256:4"),
		trackedImage("e/e", "sha256:5"),
	}
	store := newFakeImageStore(imgs...)
	client := &fakeManifestClient{
		digests: map[string]string{"a/a": "sha256:1", "c/c": "sha256:changed", "e/e": "sha256:5"},
		errs: map[string]error{
			"b/b": errors.New("registry unreachable"),
			"d/d": ErrAuthRequired,
		},
	}

	result, err := newTestPoller(store, client).Run(context.Background())
	require.NoError(t, err)

	// Every image is checked even when some fail
	assert.Equal(t, RunResult{Checked: 5, Updated: 1, Cleared: 2, Errors: 2}, result)
	assert.Equal(t, 5, client.calls)

	for _, img := range imgs {
		assert.Equal(t, 1, store.touched[img.ID], "image %s should have its check time refreshed", img.Repository)
	}
}

func TestPollerEmptyInventory(t *testing.T) {
	store := newFakeImageStore()
	client := &fakeManifestClient{}

	result, err := newTestPoller(store, client).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{}, result)
	assert.Zero(t, client.calls)
}
