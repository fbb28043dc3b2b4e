package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/WhyShailesh/whisper-rooms/internal/relay"
)

// wsConn adapts a coder/websocket connection to the relay.Conn interface.
// Send is best-effort: write failures are logged at debug and swallowed,
// matching the relay's at-most-once delivery contract. coder/websocket
// serializes Write calls internally, so concurrent sends from broadcast
// and dispatch goroutines are safe.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	ctx          context.Context // connection lifetime
	writeTimeout time.Duration
}

func newWSConn(id string, ws *websocket.Conn, ctx context.Context, writeTimeout time.Duration) *wsConn {
	return &wsConn{id: id, ws: ws, ctx: ctx, writeTimeout: writeTimeout}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(event string, payload any) {
	frame, err := relay.EncodeEnvelope(event, payload)
	if err != nil {
		slog.Error("encoding outbound event", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		slog.Debug("outbound send failed", "event", event, "conn", c.id, "reason", err)
	}
}
