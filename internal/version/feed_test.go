package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseFeedRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tag_name": "v1.8.2"}`))
	}))
	defer server.Close()

	feed := NewReleaseFeed(server.URL, 5*time.Second, zerolog.Nop())
	assert.Empty(t, feed.Latest())

	err := feed.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.8.2", feed.Latest())
}

func TestReleaseFeedRefreshErrorKeepsCache(t *testing.T) {
	failing := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"tag_name": "2.0.0"}`))
	}))
	defer server.Close()

	feed := NewReleaseFeed(server.URL, 5*time.Second, zerolog.Nop())
	require.NoError(t, feed.Refresh(context.Background()))
	require.Equal(t, "2.0.0", feed.Latest())

	failing = true
	err := feed.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "2.0.0", feed.Latest())
}

func TestReleaseFeedEmptyTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name": ""}`))
	}))
	defer server.Close()

	feed := NewReleaseFeed(server.URL, 5*time.Second, zerolog.Nop())
	assert.Error(t, feed.Refresh(context.Background()))
	assert.Empty(t, feed.Latest())
}

func TestReadCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.version")
	require.NoError(t, os.WriteFile(path, []byte("v3.1.4\n"), 0o644))

	v, err := ReadCurrent(path)
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", v)

	_, err = ReadCurrent(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
