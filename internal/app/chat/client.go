/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Client struct, representing an active WebSocket connection. It manages the client's
lifecycle and the message communication loops (readPump and writePump).
*/
package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// DefaultIdleTimeout is the maximum time the server waits for any frame or Pong from the client.
	DefaultIdleTimeout = 60 * time.Second

	// MinIdleTimeout is the shortest idle timeout a client accepts.
	MinIdleTimeout = time.Second

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// capacity of the outbound queue of a connection.
	sendBufferSize = 256

	// CloseCodeUnauthorized is a custom WebSocket Close Code (4000-4999 range)
	// used to tell the client its handshake credential was refused.
	CloseCodeUnauthorized = 4401
)

// Client struct represents an active WebSocket connection and its authenticated session.
type Client struct {
	gateway *Gateway

	// underlying WebSocket connection object.
	conn *websocket.Conn

	session *Session

	// pongWait is the idle timeout; periodic pings are sent at 9/10 of it.
	pongWait time.Duration

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// done is closed once the connection is being torn down; send is never closed.
	done     chan struct{}
	doneOnce sync.Once

	logger zerolog.Logger
}

func newClient(g *Gateway, conn *websocket.Conn, session *Session, idleTimeout time.Duration) *Client {
	switch {
	case idleTimeout <= 0:
		idleTimeout = DefaultIdleTimeout
	case idleTimeout < MinIdleTimeout:
		idleTimeout = MinIdleTimeout
	}

	return &Client{
		gateway:  g,
		conn:     conn,
		session:  session,
		pongWait: idleTimeout,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		logger: logx.Logger().With().
			Str("conn_id", session.Handle).
			Str("user_id", session.Identity.ID).
			Logger(),
	}
}

// Handle returns the connection handle.
func (c *Client) Handle() string {
	return c.session.Handle
}

// Enqueue queues frame without blocking. A client whose queue is full is a slow consumer
// and is disconnected.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, disconnecting slow consumer.")
		c.shutdown()
		return false
	}
}

// readPump handles reading frames from the WebSocket connection. It handles heartbeats (Pong)
// and hands each frame to the gateway in arrival order. The connection is purged when it returns.
func (c *Client) readPump() {
	defer c.gateway.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			return
		}

		c.gateway.handleFrame(c, raw)
	}
}

// writePump handles writing frames from the send channel to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in writePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}

		case <-c.done:
			return
		}
	}
}

// sendFrame encodes and queues an outbound frame.
func (c *Client) sendFrame(event Event, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(event)).Msg("Error marshaling frame for client")
		return
	}
	c.Enqueue(frame)
}

// sendError queues an error frame for a failed action.
func (c *Client) sendError(event Event, failure *errs.CustomError) {
	c.sendFrame(EventError, NewErrorPayload(event, failure))
}

// closeWith sends a close frame with code and reason, then tears the connection down.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Int("close_code", code).Msg("Failed to send close frame.")
	}
	c.shutdown()
}

// shutdown unblocks both pumps. The read pump then purges the connection.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Reject refuses an upgraded connection that failed authentication: the error is
// surfaced as an error frame and then as the reason of a 4401 close frame.
func Reject(conn *websocket.Conn, failure *errs.CustomError) {
	logger := logx.Component("gateway")

	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("Close after reject failed.")
		}
	}()

	frame, err := EncodeFrame(EventError, NewErrorPayload("", failure))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode reject frame.")
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logger.Debug().Err(err).Msg("Failed to write reject frame.")
		return
	}

	closeMsg := websocket.FormatCloseMessage(CloseCodeUnauthorized, failure.Message)
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)); err != nil {
		logger.Debug().Err(err).Msg("Failed to write reject close frame.")
	}
}
