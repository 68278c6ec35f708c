package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	inboundQueueSize = 64
)

// Client is one websocket connection. Read only decodes frames; events are
// handled in arrival order on the Handle goroutine.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	send       chan *ServerMessage
	inbound    chan *ClientMessage
	stop       chan struct{}
	stopOnce   sync.Once
	closeOnce  sync.Once

	// authUserId is set when the upgrade request carried a verified token.
	authUserId string
	// userId is the user bound by setup. Only the Handle goroutine touches it.
	userId string
	// lastReply is closed when the connection's latest bot reply is done.
	lastReply chan struct{}
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l zerolog.Logger, authUserId string) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, 256),
		inbound:    make(chan *ClientMessage, inboundQueueSize),
		stop:       make(chan struct{}),
		authUserId: authUserId,
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Str("event", msg.Event).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(ErrInvalidPayload))
			continue
		}

		msg.client = c
		c.forward(&msg)
	}
}

// forward hands msg to the Handle goroutine without blocking the read loop.
func (c *Client) forward(msg *ClientMessage) {
	select {
	case c.inbound <- msg:
	default:
		c.log.Warn().Str("event", msg.Event).Msg("inbound queue is full, dropping event")
		c.queueMessage(ErrInvalidMessage(ErrTooManyEvents))
	}
}

// Handle runs the event handlers for the connection until it is stopped.
func (c *Client) Handle() {
	for {
		select {
		case msg := <-c.inbound:
			c.chatServer.handleClientMessage(msg)
		case <-c.stop:
			c.log.Debug().Msg("handle exiting")
			return
		}
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("event", msg.Event).Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup unregisters the connection exactly once.
func (c *Client) cleanup() {
	c.closeOnce.Do(func() {
		c.chatServer.UnregisterClient(c)
		c.stopClient()
	})
}
