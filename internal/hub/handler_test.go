package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu          sync.Mutex
	transitions []bool
}

func (f *fakeDirectory) ValidateIdentity(ctx context.Context, identity string) (bool, error) {
	return identity == "agent-1", nil
}

func (f *fakeDirectory) RecordStatus(ctx context.Context, identity string, connected bool, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, connected)
}

func (f *fakeDirectory) recorded() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.transitions...)
}

func setupWSServer(t *testing.T, heartbeatTimeout time.Duration) (*Hub, *fakeDirectory, string) {
	h := New(zerolog.Nop())
	dir := &fakeDirectory{}
	handler := NewHandler(h, dir, heartbeatTimeout, time.Second, zerolog.Nop())

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return h, dir, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAgent(t *testing.T, url, identity string) *websocket.Conn {
	header := http.Header{}
	header.Set(IdentityHeader, identity)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestHandlerRejectsUnknownIdentity(t *testing.T) {
	_, _, url := setupWSServer(t, time.Second)

	header := http.Header{}
	header.Set(IdentityHeader, "ghost")

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsMissingIdentity(t *testing.T) {
	_, _, url := setupWSServer(t, time.Second)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSilentAgentIsDeregisteredAfterHeartbeatWindow(t *testing.T) {
	h, dir, url := setupWSServer(t, 150*time.Millisecond)

	// The peer never reads, so it never answers the server's pings
	dialAgent(t, url, "agent-1")

	require.Eventually(t, func() bool {
		return h.IsConnected("agent-1")
	}, time.Second, 10*time.Millisecond, "agent should register on handshake")

	require.Eventually(t, func() bool {
		return !h.IsConnected("agent-1")
	}, 2*time.Second, 10*time.Millisecond, "silent agent should be evicted")

	assert.Equal(t, []bool{true, false}, dir.recorded())
}

func TestResponsiveAgentStaysConnected(t *testing.T) {
	h, _, url := setupWSServer(t, 150*time.Millisecond)

	conn := dialAgent(t, url, "agent-1")

	// The read loop services pings; gorilla's default handler pongs back
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		return h.IsConnected("agent-1")
	}, time.Second, 10*time.Millisecond)

	// Outlive several heartbeat windows
	time.Sleep(500 * time.Millisecond)
	assert.True(t, h.IsConnected("agent-1"))

	conn.Close()
	<-done
}
