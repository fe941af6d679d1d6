/*
Package dispatch contains the core logic of the real-time tour tracking.

This file defines the Client struct, one live channel. It owns the WebSocket connection
and runs the read and write pumps; everything it receives is handed to the Service.
*/
package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ultramedic/internal/app/user"
	"ultramedic/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// DefaultIdleTimeout is how long a channel may stay silent (no pong, no message).
	DefaultIdleTimeout = 60 * time.Second

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 4096

	// capacity of the per-client outbound queue.
	sendBufferSize = 64
)

var (
	errClientClosed  = errors.New("client closed")
	errSendQueueFull = errors.New("client send queue full")
)

// Role tells what a channel may do with the tour it follows.
type Role int

const (
	// RoleOwner is the ambulance that created the tour; it reports locations.
	RoleOwner Role = iota

	// RoleObserver follows someone else's tour and only receives pushes.
	RoleObserver
)

func (r Role) String() string {
	if r == RoleOwner {
		return "owner"
	}
	return "observer"
}

// Client is an active live channel and its associated user.
type Client struct {
	conn *websocket.Conn

	// the authenticated user of the channel.
	user *user.User

	// tourKey is the owner id of the tour this channel follows.
	tourKey string

	role Role

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// done is closed once by Close; the write pump flushes and then sends the close frame.
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeMsg  string

	idleTimeout time.Duration

	logger zerolog.Logger
}

func newClient(conn *websocket.Conn, adm *Admission, idleTimeout time.Duration) *Client {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &Client{
		conn:        conn,
		user:        adm.User,
		tourKey:     adm.TourKey,
		role:        adm.Role,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
		logger: logx.Logger().With().
			Str("client_id", adm.User.ID).
			Str("tour_key", adm.TourKey).
			Str("role", adm.Role.String()).
			Logger(),
	}
}

// Enqueue implements Peer.
func (c *Client) Enqueue(msg []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close implements Peer. The write pump flushes queued messages, writes the
// close frame and closes the connection.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeMsg = reason
		close(c.done)
	})
}

// readPump reads messages until the connection fails or stays idle past the
// idle timeout. Pongs and every inbound message extend the deadline.
func (c *Client) readPump(handle func(*Client, []byte)) {
	c.conn.SetReadLimit(maxMessageSize)

	if err := c.extendDeadline(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.extendDeadline()
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			return
		}

		if err := c.extendDeadline(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to extend read deadline")
			return
		}

		handle(c, messageBytes)
	}
}

func (c *Client) extendDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// writePump writes queued messages and periodic pings. It owns every data
// write on the connection and closes it on exit.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.idleTimeout * 9 / 10)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in writePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			c.flushAndClose()
			return
		}
	}
}

func (c *Client) flushAndClose() {
	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		default:
			c.logger.Info().
				Int("close_code", c.closeCode).
				Str("reason", c.closeMsg).
				Msg("Closing live channel.")
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeMsg))
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing to live channel")
		}
		return false
	}

	return true
}

// Reject ends a freshly upgraded connection that was refused admission.
func Reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		logx.Logger().Debug().Err(err).Msg("Failed to write rejection close frame")
	}
	_ = conn.Close()
}
