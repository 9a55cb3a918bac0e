package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ReleaseFeed caches the latest published agent version from an upstream
// release feed. The cache lives in process memory only; an empty latest
// means the feed has not been reachable yet.
type ReleaseFeed struct {
	url    string
	client *http.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	latest string
}

// NewReleaseFeed creates a feed poller for the given release endpoint
func NewReleaseFeed(url string, timeout time.Duration, logger zerolog.Logger) *ReleaseFeed {
	return &ReleaseFeed{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "release-feed").Logger(),
	}
}

// Latest returns the cached latest version, or "" when unknown
func (f *ReleaseFeed) Latest() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

// Refresh fetches the feed once and updates the cache. An unreachable feed
// leaves the previous cached value in place.
func (f *ReleaseFeed) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build release feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch release feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release feed returned status %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("decode release feed: %w", err)
	}

	latest := strings.TrimPrefix(strings.TrimSpace(release.TagName), "v")
	if latest == "" {
		return fmt.Errorf("release feed returned empty tag")
	}

	f.mu.Lock()
	changed := f.latest != latest
	f.latest = latest
	f.mu.Unlock()

	if changed {
		f.logger.Info().Str("latest_version", latest).Msg("Latest agent version updated")
	}

	return nil
}

// Run refreshes the cache on a fixed interval until the context is done
func (f *ReleaseFeed) Run(ctx context.Context, interval time.Duration) {
	if err := f.Refresh(ctx); err != nil {
		f.logger.Warn().Err(err).Msg("Initial release feed refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				f.logger.Warn().Err(err).Msg("Release feed refresh failed")
			}
		}
	}
}

// ReadCurrent reads the server's bundled agent version from the manifest
// written next to the agent binary at packaging time
func ReadCurrent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read agent version manifest: %w", err)
	}

	v := strings.TrimPrefix(strings.TrimSpace(string(data)), "v")
	if v == "" {
		return "", fmt.Errorf("agent version manifest %s is empty", path)
	}

	return v, nil
}
