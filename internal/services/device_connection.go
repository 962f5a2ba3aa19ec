package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fabxaccess/device-gateway/internal/models"
)

var (
	errConnectionEvicted  = errors.New("replaced by new connection of same device")
	errConnectionClosed   = errors.New("connection closed")
	errServerShuttingDown = errors.New("server shutting down")
	errKeepaliveFailed    = errors.New("keepalive failed")
)

// WebsocketConn is the subset of *websocket.Conn used by a device connection.
type WebsocketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// DeviceConnection is the live channel of one authenticated device. Writes
// are serialized, so it may be used from the read loop and from outbound
// senders at the same time.
type DeviceConnection struct {
	actor        models.DeviceActor
	conn         WebsocketConn
	writeTimeout time.Duration
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newDeviceConnection(parent context.Context, actor models.DeviceActor, conn WebsocketConn, writeTimeout time.Duration, logger zerolog.Logger) *DeviceConnection {
	ctx, cancel := context.WithCancelCause(parent)
	return &DeviceConnection{
		actor:        actor,
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *DeviceConnection) Actor() models.DeviceActor {
	return c.actor
}

// Done is closed once the connection is evicted, closed or the server stops.
func (c *DeviceConnection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SendText writes one text frame.
func (c *DeviceConnection) SendText(text string) error {
	if c.ctx.Err() != nil {
		return errConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *DeviceConnection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// evict cancels the connection. The watcher goroutine closes the transport,
// which ends the read loop.
func (c *DeviceConnection) evict() {
	c.cancel(errConnectionEvicted)
}

func (c *DeviceConnection) shutdown(cause error) {
	c.cancel(cause)
}

// close sends a close frame matching the cancellation cause and closes the
// transport. Safe to call more than once.
func (c *DeviceConnection) close() {
	c.closeOnce.Do(func() {
		c.cancel(errConnectionClosed)

		code := websocket.CloseNormalClosure
		cause := context.Cause(c.ctx)
		if errors.Is(cause, errServerShuttingDown) {
			code = websocket.CloseGoingAway
		}
		reason := ""
		if cause != nil {
			reason = cause.Error()
		}

		deadline := time.Now().Add(c.writeTimeout)
		if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send close frame")
		}
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to close websocket")
		}
	})
}
