package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/internal/metrics"
	"roomcast/internal/ratelimit"
)

// ErrSendQueueFull reports that a connection's outbound queue overflowed.
// The hub treats it like any other send failure and drops the connection.
var ErrSendQueueFull = errors.New("hub: send queue full")

var errConnClosed = errors.New("hub: connection closed")

const writeTimeout = 10 * time.Second

// ConnOptions tunes one websocket connection's pumps and limits.
type ConnOptions struct {
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 16 << 20
	}
	if o.MaxMessagesPerSecond <= 0 {
		o.MaxMessagesPerSecond = 50
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	return o
}

// Conn adapts one gorilla websocket to the hub. All writes go through a
// single write pump; Enqueue hands frames to it without blocking.
type Conn struct {
	ws   *websocket.Conn
	opts ConnOptions

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Enqueue hands data to the write pump. It fails fast when the queue is full
// or the connection has closed; it never blocks a broadcast.
func (c *Conn) Enqueue(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Close() {
	c.shutdown()
}

// run drives both pumps and blocks until the connection dies. The caller
// (the HTTP handler goroutine) runs the read pump directly.
func (c *Conn) run(h *Hub, connID string, log *slog.Logger) {
	go c.writePump(log, connID)
	c.readPump(h, connID, log)
}

func (c *Conn) readPump(h *Hub, connID string, log *slog.Logger) {
	defer h.Disconnect(connID)

	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	limiter := ratelimit.NewTokenBucket(nil,
		int64(c.opts.MaxMessagesPerSecond),
		int64(c.opts.MaxMessagesPerSecond))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "peer_id", connID, "err", err)
			}
			return
		}
		if !limiter.Allow(1) {
			h.metrics.Inc(metrics.RateLimited)
			log.Warn("message rate limit exceeded", "peer_id", connID)
			continue
		}
		h.HandleMessage(connID, data)
	}
}

func (c *Conn) writePump(log *slog.Logger, connID string) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("websocket write failed", "peer_id", connID, "err", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
