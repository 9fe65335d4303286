package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Conn is one client WebSocket connection.
// Writes go through a bounded queue drained by WriteLoop; Send never blocks.
type Conn struct {
	id     string
	ws     *websocket.Conn
	config *SessionConfig

	send chan []byte
	done chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	metrics *Metrics
	logger  *slog.Logger
}

// newConn wraps ws. The connection ID is a fresh ULID.
func newConn(ws *websocket.Conn, config *SessionConfig, metrics *Metrics, logger *slog.Logger) *Conn {
	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:      id,
		ws:      ws,
		config:  config,
		send:    make(chan []byte, config.SendQueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics,
		logger:  logger.With("conn_id", id),
	}
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.id
}

// Context returns a context canceled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Done returns a channel closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues msg for delivery. When the queue is full the connection is
// closed and ErrSendQueueFull is returned.
func (c *Conn) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("send queue full, dropping slow client", "queue", cap(c.send))
		c.metrics.RecordDroppedClient()
		c.Close()
		return ErrSendQueueFull
	}
}

// Close stops both loops. It is safe to call from any goroutine, more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
	return nil
}

// ReadLoop reads envelopes and hands them to h one at a time.
// It blocks until the connection is closed, then runs h's leave protocol.
// A panic in h closes this connection only.
func (c *Conn) ReadLoop(h *Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic",
				"panic", r,
				"stack", string(debug.Stack()))
			c.metrics.RecordPanic()
		}
		h.ClientDisconnection()
		c.Close()
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		h.HandleMessage(c.ctx, msg)
	}
}

// WriteLoop drains the send queue and sends heartbeat pings.
// It runs until the connection is closed or a write fails.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Error("write error", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}

		case <-c.done:
			deadline := time.Now().Add(c.config.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
