package presence

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeDeadline = 10 * time.Second

// ConnOptions tunes a connection's buffers and keep-alives.
type ConnOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	return o
}

// Conn is one live client connection. Writes go through SendChan and are
// drained in order by a single write goroutine, so packets addressed to one
// connection never reorder.
type Conn struct {
	ID      string
	TraceID string
	LastSeq uint64

	SendChan chan []byte
	Done     chan struct{}

	ws     *websocket.Conn
	opts   ConnOptions
	userID atomic.Value // string
	once   sync.Once
	logger *zap.Logger
}

// NewConn wraps ws and starts its write pump. A nil ws yields a connection
// that only buffers into SendChan, which tests read directly.
func NewConn(ws *websocket.Conn, logger *zap.Logger, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ID:       uuid.NewString(),
		SendChan: make(chan []byte, opts.SendBuffer),
		Done:     make(chan struct{}),
		ws:       ws,
		opts:     opts,
		logger:   logger,
	}
	c.userID.Store("")
	if ws != nil {
		go c.writePump()
	}
	return c
}

// UserID returns the registered user, or "" before registration.
func (c *Conn) UserID() string {
	return c.userID.Load().(string)
}

func (c *Conn) setUserID(id string) {
	c.userID.Store(id)
}

// writePump drains SendChan and writes to the socket, pinging periodically
// to detect dead peers.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.ws.Close()
	for {
		select {
		case data := <-c.SendChan:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("ws write error",
					zap.String("conn_id", c.ID),
					zap.String("user_id", c.UserID()),
					zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.Done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and queues it without blocking. A full buffer drops the
// packet.
func (c *Conn) Send(pkt *Packet) {
	if c.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		c.logger.Error("marshal packet", zap.String("type", pkt.Type), zap.Error(err))
		return
	}
	c.enqueue(data, pkt.Type)
}

// SendRaw queues pre-encoded bytes without blocking.
func (c *Conn) SendRaw(data []byte) {
	if c.IsClosed() {
		return
	}
	c.enqueue(data, "")
}

func (c *Conn) enqueue(data []byte, typ string) {
	select {
	case c.SendChan <- data:
	case <-c.Done:
	default:
		if !c.IsClosed() {
			c.logger.Warn("send channel full, dropping packet",
				zap.String("conn_id", c.ID),
				zap.String("user_id", c.UserID()),
				zap.String("type", typ))
		}
	}
}

// Close signals the write pump to shut down. Safe to call repeatedly.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.Done) })
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline pushes the socket read deadline out by ReadTimeout.
func (c *Conn) SetReadDeadline() {
	if c.ws != nil {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

// ReadTimeout is the configured idle read limit.
func (c *Conn) ReadTimeout() time.Duration { return c.opts.ReadTimeout }
