package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/pulse/internal/models"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
)

// Client is one live authenticated connection. It owns the transport
// socket and a buffered send queue; everything else about the connection
// (room memberships, locks, typing state) lives in the owning components
// and is released through the hub on disconnect.
type Client struct {
	hub  *Hub
	conn *websocket.Conn // nil for in-process connections in tests

	id          string
	identity    models.Identity
	remoteAddr  string
	connectedAt time.Time

	send      chan []byte
	closed    atomic.Bool
	closeOnce sync.Once

	// validation strikes; repeated malformed payloads force a close
	strikes atomic.Int32
}

func newClient(hub *Hub, conn *websocket.Conn, identity models.Identity, remoteAddr string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		id:          newConnectionID(),
		identity:    identity,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user ID.
func (c *Client) UserID() string { return c.identity.UserID }

// Identity returns the authenticated identity.
func (c *Client) Identity() models.Identity { return c.identity }

// RemoteAddr returns the transport's remote address.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// ConnectedAt returns when the connection was registered.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// Send queues an event for delivery. Returns false when the client is
// closed or its buffer is full; the caller decides whether that is fatal.
func (c *Client) Send(event string, data any) bool {
	if c.closed.Load() {
		return false
	}

	payload, err := encodeEvent(event, data)
	if err != nil {
		return false
	}

	// The send channel is closed on disconnect; racing sends recover.
	defer func() { _ = recover() }()

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// SendError delivers an error event for a failed operation.
func (c *Client) SendError(err error) {
	payload := errorPayload{Code: ErrorCode(err), Message: err.Error()}

	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		payload.RetryAfterMs = throttled.RetryAfter.Milliseconds()
		c.Send(EventRateLimitExceeded, payload)
		return
	}
	c.Send(EventError, payload)
}

// SendWarning delivers a non-fatal degradation notice.
func (c *Client) SendWarning(code, message string) {
	c.Send(EventWarning, errorPayload{Code: code, Message: message})
}

// close tears down the transport and the send queue. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

// readPump reads envelopes off the socket and dispatches them to the hub.
// Runs as one goroutine per connection; exits on any read error and
// triggers the full disconnect path.
func (c *Client) readPump() {
	defer c.hub.Disconnect(c.id, "transport closed")

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Str("conn", c.id).Err(err).Msg("unexpected websocket error")
			}
			return
		}
		c.hub.handleFrame(c, raw)
	}
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
