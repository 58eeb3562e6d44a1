package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/coderoom/internal/metrics"
	"github.com/manpreetbhatti/coderoom/internal/protocol"
	"github.com/manpreetbhatti/coderoom/internal/ratelimit"
	"github.com/manpreetbhatti/coderoom/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Rate limit violations tolerated before the connection is dropped
	maxRateLimitWarnings = 1000
)

// Dispatcher receives decoded client events. *registry.Registry satisfies it.
type Dispatcher interface {
	Join(ch registry.Channel, roomID, name string)
	UpdateBuffer(ch registry.Channel, roomID, code string)
	PostChat(ch registry.Channel, roomID, name, text string)
	UpdateFileTree(ch registry.Channel, roomID string, tree json.RawMessage)
	Leave(ch registry.Channel, roomID string)
	Disconnect(ch registry.Channel)
}

// A single WebSocket connection
type Client struct {
	dispatcher  Dispatcher
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	rateLimiter *ratelimit.Limiter
	clientID    string
	logger      zerolog.Logger
}

func newClient(d Dispatcher, conn *websocket.Conn, opts Options, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		dispatcher:  d,
		conn:        conn,
		send:        make(chan []byte, opts.SendBuffer),
		done:        make(chan struct{}),
		rateLimiter: ratelimit.NewLimiter(opts.MessagesPerSecond, opts.MessageBurst),
		clientID:    id,
		logger:      logger.With().Str("conn", id).Logger(),
	}
}

func (c *Client) ID() string {
	return c.clientID
}

// Send queues a frame for the write pump without blocking.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket. The send channel is
// never closed so a late Send cannot panic.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump(maxMessageSize int64) {
	defer func() {
		c.dispatcher.Disconnect(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			metrics.RateLimitHits.WithLabelValues("event").Inc()
			if rateLimitWarnings%100 == 1 {
				c.logger.Warn().Int("warnings", rateLimitWarnings).Msg("rate limit exceeded")
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				c.logger.Warn().Msg("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	_, payload, err := protocol.Decode(message)
	if err != nil {
		c.logger.Debug().Err(err).Msg("dropping invalid frame")
		return
	}

	switch p := payload.(type) {
	case protocol.JoinRoom:
		c.dispatcher.Join(c, p.RoomID, p.Username)
	case protocol.CodeUpdate:
		c.dispatcher.UpdateBuffer(c, p.RoomID, p.Code)
	case protocol.ChatMessage:
		c.dispatcher.PostChat(c, p.RoomID, p.Username, p.Message)
	case protocol.FileSystemUpdate:
		c.dispatcher.UpdateFileTree(c, p.RoomID, p.FileSystem)
	case protocol.LeaveRoom:
		c.dispatcher.Leave(c, p.RoomID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
