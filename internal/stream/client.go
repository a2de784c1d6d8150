package stream

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/1valdis/heavensat-web/internal/metrics"
)

// client manages a single websocket connection's write operations. Only the
// handler goroutine writes.
type client struct {
	conn         *websocket.Conn
	ip           string
	writeTimeout time.Duration
	logger       *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON writes v as a text message.
func (c *client) sendJSON(v any) error {
	c.extendDeadline()
	if err := c.conn.WriteJSON(v); err != nil {
		return errors.Wrap(err, "write json")
	}
	c.messagesSent++
	metrics.IncStreamMessages()
	return nil
}

// sendFrame writes an encoded result frame as a binary message.
func (c *client) sendFrame(data []byte) error {
	c.extendDeadline()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "write frame")
	}
	c.messagesSent++
	c.bytesSent += int64(len(data))
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(len(data))
	return nil
}

// sendKeepalive writes a ping control frame.
func (c *client) sendKeepalive() error {
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
	return errors.Wrap(err, "keepalive write")
}

// extendDeadline pushes the write deadline writeTimeout into the future.
func (c *client) extendDeadline() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
}

// readLoop drains client messages so control frames are processed, and
// closes done when the peer goes away. Clients are not expected to send
// anything but pongs and a close.
func (c *client) readLoop(idle time.Duration, done chan<- struct{}) {
	defer close(done)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("stream read ended", "remote_ip", c.ip, "error", err)
			}
			return
		}
	}
}
