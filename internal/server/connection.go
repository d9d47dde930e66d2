package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lox/cascadeslots/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Per-request budget for engine and sync calls
	requestTimeout = 5 * time.Second
)

type outbound struct {
	env    *protocol.Envelope
	binary bool
}

// Connection represents a WebSocket connection to a client. Replies use the
// frame type of the request: text frames carry JSON, binary frames msgpack.
type Connection struct {
	conn      *websocket.Conn
	server    *Server
	send      chan outbound
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConnection(parent context.Context, conn *websocket.Conn, s *Server) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		conn:   conn,
		server: s,
		send:   make(chan outbound, 256),
		logger: s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) enqueue(env *protocol.Envelope, binary bool) {
	select {
	case c.send <- outbound{env: env, binary: binary}:
	case <-c.ctx.Done():
	default:
		c.logger.Warn().Msg("Connection send buffer full, closing connection")
		_ = c.Close() // Ignore close errors
	}
}

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }() // Ignore close errors during cleanup

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		binary := kind == websocket.BinaryMessage
		var env protocol.Envelope
		if binary {
			err = protocol.Unmarshal(data, &env)
		} else {
			err = protocol.DecodeText(data, &env)
		}
		if err != nil {
			c.logger.Debug().Err(err).Bool("binary", binary).Msg("Dropping undecodable frame")
			c.enqueue(protocol.NewError("", badFrame(err)), binary)
			continue
		}

		ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
		reply := c.server.dispatch(ctx, &env)
		cancel()
		c.enqueue(reply, binary)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close() // Ignore close errors during cleanup
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.write(msg); err != nil {
				c.logger.Error().Err(err).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Connection) write(msg outbound) error {
	if msg.binary {
		data, err := protocol.Marshal(msg.env)
		if err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.BinaryMessage, data)
	}
	data, err := protocol.EncodeText(msg.env)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
