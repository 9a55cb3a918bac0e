package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrSendBufferFull is returned when an agent's outbound buffer is saturated
var ErrSendBufferFull = errors.New("agent send buffer full")

// errClientClosed is returned by Send after the connection is torn down
var errClientClosed = errors.New("agent connection closed")

const sendBufferSize = 64

// client wraps one agent websocket connection. The write pump is the only
// goroutine writing to the socket; the read pump enforces the heartbeat
// window and drives deregistration when the transport dies.
type client struct {
	hub      *Hub
	identity string
	conn     *websocket.Conn
	send     chan []byte
	logger   zerolog.Logger

	heartbeatTimeout time.Duration
	writeTimeout     time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(h *Hub, identity string, conn *websocket.Conn, heartbeatTimeout, writeTimeout time.Duration, logger zerolog.Logger) *client {
	return &client{
		hub:              h,
		identity:         identity,
		conn:             conn,
		send:             make(chan []byte, sendBufferSize),
		logger:           logger.With().Str("component", "agent-conn").Str("agent_id", identity).Logger(),
		heartbeatTimeout: heartbeatTimeout,
		writeTimeout:     writeTimeout,
		closed:           make(chan struct{}),
	}
}

// Send queues a serialized command for the write pump. It never blocks: a
// saturated buffer or a closed connection is reported as an error.
func (c *client) Send(data []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears down the connection; safe to call more than once
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

// run starts both pumps and blocks until the connection dies
func (c *client) run() {
	go c.writePump()
	c.readPump()
}

// readPump enforces the heartbeat window: every pong (or inbound frame)
// extends the read deadline, and a missed window kills the connection.
// Inbound payloads are discarded; the command channel is one-way.
func (c *client) readPump() {
	defer func() {
		_ = c.Close()
		c.hub.release(c.identity, c)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	c.conn.SetReadLimit(4096)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("Agent connection read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	}
}

// writePump drains the send buffer and keeps the heartbeat alive with
// periodic pings
func (c *client) writePump() {
	// Ping well inside the heartbeat window so one lost ping does not
	// immediately expire the peer's deadline
	pingInterval := c.heartbeatTimeout * 9 / 10

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("Agent connection write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
