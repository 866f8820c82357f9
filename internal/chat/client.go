package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer.
	maxMessageSize = 8 * 1024         // Maximum inbound frame size.
	sendBuffer     = 256
)

// SessionState tracks a connection from handshake to close.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthorized
	StateSubscribed
	StateClosed
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// PostFunc persists one inbound message and publishes it to the room.
type PostFunc func(ctx context.Context, text string) error

// Client is one live connection bound to exactly one room.
type Client struct {
	ID        string
	Principal Principal

	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	room     *Room
	post     PostFunc
	pongWait time.Duration
	logger   zerolog.Logger

	state     atomic.Int32
	closeOnce sync.Once
}

func newClient(hub *Hub, principal Principal, pongWait time.Duration, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:        id,
		Principal: principal,
		hub:       hub,
		send:      make(chan []byte, sendBuffer),
		pongWait:  pongWait,
		logger: logger.With().
			Str("client", id).
			Int("user_id", principal.ID).
			Logger(),
	}
}

func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// transition moves from one of the from states to to. It reports false when
// the session was elsewhere.
func (c *Client) transition(to SessionState, from ...SessionState) bool {
	for _, f := range from {
		if c.state.CompareAndSwap(int32(f), int32(to)) {
			return true
		}
	}
	return false
}

func (c *Client) reject() {
	c.transition(StateRejected, StateConnecting)
}

func (c *Client) authorize(room *Room, post PostFunc) {
	if c.transition(StateAuthorized, StateConnecting) {
		c.room = room
		c.post = post
		c.logger = c.logger.With().Str("room", room.Key.String()).Logger()
	}
}

// subscribe joins the room's fan-out. Events published from here on are
// buffered in send until the connection is attached.
func (c *Client) subscribe() error {
	if c.State() != StateAuthorized {
		return errors.New("session is not authorized")
	}
	if err := c.hub.Subscribe(c.room.Key, c); err != nil {
		return err
	}
	c.transition(StateSubscribed, StateAuthorized)
	return nil
}

// attach binds the upgraded connection. It must run before the pumps start.
func (c *Client) attach(conn *websocket.Conn) {
	c.conn = conn
}

// Close unsubscribes and closes the socket. Later calls do nothing.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.State() == StateSubscribed {
			c.hub.Unsubscribe(c.room.Key, c)
		}
		if c.conn != nil {
			c.conn.Close()
		}
		c.state.Store(int32(StateClosed))
		c.logger.Debug().Msg("connection closed")
	})
}

// ReadPump reads frames until the connection fails. It runs on the
// handler's goroutine and always unsubscribes before returning.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn().Err(err).Msg("connection read failed")
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("ignoring malformed frame")
			continue
		}

		if err := c.post(ctx, frame.Message); err != nil {
			if errors.Is(err, ErrValidation) {
				c.logger.Debug().Err(err).Msg("ignoring invalid message")
				continue
			}
			// Nothing was broadcast; drop the connection rather than
			// pretend the message went through.
			c.logger.Error().Err(err).Msg("message not stored")
			return
		}
	}
}

// WritePump writes hub events to the socket and keeps the connection alive
// with pings. Each event goes out as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
