package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Client represents a single authenticated WebSocket connection. Unlike the teacher's Identify/Resume handshake,
// authentication happens before the upgrade (spec §6: token is validated from the `?token=` query param, invalid
// tokens get HTTP 401 rather than an accepted socket) — so a Client is always born with a known userID and never
// transitions through an unauthenticated state.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	log    zerolog.Logger
	userID uuid.UUID

	// tokenExpiresAt is the expiry of the access token validated at upgrade time (spec §4.1). The socket outlives a
	// 15-minute token by design, so ReadPump re-checks it on every inbound frame and closes with CloseAuthFailed once
	// it has passed, rather than trusting the one-time pre-upgrade check for the life of the connection.
	tokenExpiresAt time.Time

	// done is closed to signal that the client is shutting down. The send channel is never closed directly; WritePump
	// and enqueue both select on done to detect termination, avoiding send-on-closed-channel panics that would
	// otherwise occur when unregister races with dispatch.
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client. sendBufferSize bounds the outbound channel per socket (SPEC_FULL.md §4.7
// SendBufferSize); a slow reader's channel fills before the server blocks routing for everyone else. tokenExpiresAt
// is the expiry of the access token that authenticated the upgrade.
func NewClient(conn *websocket.Conn, userID uuid.UUID, sendBufferSize int, tokenExpiresAt time.Time, logger zerolog.Logger) *Client {
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		userID:         userID,
		tokenExpiresAt: tokenExpiresAt,
		log:            logger,
	}
}

// ID implements registry.Socket.
func (c *Client) ID() uuid.UUID { return c.userID }

// CloseWithCode implements registry.Socket: sends a WebSocket close frame with the given code and reason, then
// closes the underlying connection.
func (c *Client) CloseWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
	c.closeSend()
}

// closeSend signals the client's write loop to stop. Safe to call from multiple goroutines; only the first call has
// any effect.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue sends a message to the client's write channel. If the client has already been shut down the message is
// silently dropped. If the channel is full, the message is dropped and the connection is closed: a slow reader must
// not be allowed to stall the router's fan-out to every other recipient (spec §7: partial fan-out failure must not
// abort the send).
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Str("user_id", c.userID.String()).Msg("client send buffer full, closing connection")
		c.CloseWithCode(CloseNormal, "send buffer full")
	}
}

// ReadPump reads frames from the WebSocket connection and routes them to router. It runs in its own goroutine and is
// responsible for tearing the connection down (via teardown) when the read loop exits.
func (c *Client) ReadPump(router *Router, idleTimeout time.Duration, teardown func()) {
	defer teardown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("user_id", c.userID.String()).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		if !time.Now().Before(c.tokenExpiresAt) {
			c.CloseWithCode(CloseAuthFailed, "access token expired")
			return
		}

		router.Dispatch(c, message)
	}
}

// WritePump writes messages from the send channel to the WebSocket connection. It runs in its own goroutine and
// exits when done is closed. Any messages remaining in the send buffer are drained before returning.
func (c *Client) WritePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Str("user_id", c.userID.String()).Msg("websocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
