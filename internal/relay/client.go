package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

type frame struct {
	kind int
	data []byte
}

// inbound is one decoded frame on its way to the hub. err is set instead
// of msg when the frame was rejected before decoding.
type inbound struct {
	client *client
	codec  signaling.Codec
	msg    *signaling.Message
	err    error
}

// client is one websocket connection.
type client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan frame
	limiter *rate.Limiter
	logger  *slog.Logger

	// Owned by the hub goroutine.
	roomID      string
	codec       signaling.Codec
	participant roster.Participant
}

// readPump decodes frames in whichever codec they arrive in and hands
// them to the hub.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}

		in := inbound{client: c, codec: signaling.CodecForFrame(kind)}
		if !c.limiter.Allow() {
			in.err = ErrRateLimited
		} else {
			var msg signaling.Message
			if err := in.codec.Unmarshal(data, &msg); err != nil {
				in.err = fmt.Errorf("%w: %v", ErrMalformed, err)
			} else {
				in.msg = &msg
			}
		}

		select {
		case c.hub.inbound <- in:
		case <-c.hub.done:
			return
		}
	}
}

// writePump writes frames queued by the hub and keeps the connection
// alive with pings. It exits when the hub closes send.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				c.logger.Debug("Write failed", "error", err)
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
