package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnConfig holds the per-connection transport limits.
type ConnConfig struct {
	MaxMessageSize int64
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
}

// DefaultConnConfig returns the transport limits used when none are set.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxMessageSize: 4096,
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
	}
}

func (c ConnConfig) sanitize() ConnConfig {
	def := DefaultConnConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	return c
}

// Conn is one client's WebSocket. Only the write pump writes to the socket;
// the owning session is the only reader.
type Conn struct {
	id     string
	ws     *websocket.Conn
	cfg    ConnConfig
	logger *slog.Logger

	send     chan []byte
	done     chan struct{}
	finished chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConn(ws *websocket.Conn, cfg ConnConfig, logger *slog.Logger) *Conn {
	cfg = cfg.sanitize()
	id := uuid.NewString()
	return &Conn{
		id:       id,
		ws:       ws,
		cfg:      cfg,
		logger:   logger.With(slog.String("conn", id)),
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues payload for the write pump. It reports false when the
// connection is closing or its buffer is full.
func (c *Conn) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close asks the write pump to flush, send a close frame and drop the socket.
// Only the first call's code and reason are used.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// wait blocks until the write pump has exited or ctx ends.
func (c *Conn) wait(ctx context.Context) error {
	select {
	case <-c.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start configures read limits and keepalive, then launches the write pump.
func (c *Conn) start() {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", slog.Any("error", err))
	}
	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", slog.Any("error", err))
		}
		return nil
	})
	go c.writePump()
}

func (c *Conn) readMessage() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	return payload, err
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(websocket.CloseAbnormalClosure, "")
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in write pump", slog.Any("error", err))
		}
		close(c.finished)
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeText(message) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		case <-c.done:
			c.flush()
			c.writeClose()
			return
		}
	}
}

// flush writes whatever was queued before Close.
func (c *Conn) flush() {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeText(<-c.send) {
			return
		}
	}
}

func (c *Conn) writeText(message []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Warn("error setting write deadline", slog.Any("error", err))
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", slog.Any("error", err))
		}
		return false
	}
	return true
}

func (c *Conn) writePing() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", slog.Any("error", err))
		return false
	}
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing ping message", slog.Any("error", err))
		}
		return false
	}
	return true
}

func (c *Conn) writeClose() {
	// 1006 is reserved for local use and never goes on the wire.
	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	frame := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(c.cfg.WriteWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing close message", slog.Any("error", err))
		}
	}
}

// logReadError records why the read loop ended.
func (c *Conn) logReadError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("message exceeded maximum size", slog.Int64("limit", c.cfg.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("client disconnected", slog.Any("error", err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", slog.Any("error", err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected websocket close", slog.Any("error", err))
	default:
		c.logger.Debug("websocket read ended", slog.Any("error", err))
	}
}

// isExpectedCloseError reports whether err is the normal fallout of either
// side dropping the socket.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
