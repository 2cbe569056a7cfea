package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/hub"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

// Constants for WebSocket connections
const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client
	pongWait = 60 * time.Second

	// Send pings to client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client
	maxMessageSize = 4096
)

// HandleWebsocket upgrades the request and serves one subscriber until the
// connection ends or the subscriber is evicted.
func (c *Controller) HandleWebsocket(ctx echo.Context) error {
	conn, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		GetLogger().Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}

	c.connections.Add(1)
	defer c.connections.Done()

	reqCtx := ctx.Request().Context()
	id := uuid.NewString()
	sub, err := c.hub.Register(reqCtx, id)
	if err != nil {
		GetLogger().Error("subscriber registration failed", logger.Error(err))
		_ = conn.Close()
		return nil
	}

	written := make(chan struct{})
	go func() {
		defer close(written)
		writePump(sub, conn)
	}()

	c.readPump(reqCtx, conn, id)
	c.hub.Unregister(id)
	<-written
	return nil
}

// writePump pumps messages from the hub to the WebSocket connection
func writePump(sub *hub.Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads subscriber requests until the connection fails.
func (c *Controller) readPump(ctx context.Context, conn *websocket.Conn, id string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				GetLogger().Debug("websocket read error",
					logger.String("subscriber_id", id),
					logger.Error(err))
			}
			return
		}
		c.handleRequest(ctx, id, raw)
	}
}

// handleRequest answers one subscriber request. Failures are reported to
// the subscriber and never close the connection.
func (c *Controller) handleRequest(ctx context.Context, id string, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.hub.SendError(ctx, id, errors.InvalidArgument("malformed message: "+err.Error()))
		return
	}

	switch env.Type {
	case protocol.TypeRequestSnapshot:
		var req protocol.SnapshotRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				c.hub.SendError(ctx, id, errors.InvalidArgument("malformed snapshot request: "+err.Error()))
				return
			}
		}
		err = c.hub.RequestSnapshot(ctx, id, req.Date)
	case protocol.TypeRequestAvailableDates:
		err = c.hub.RequestAvailableDates(ctx, id)
	default:
		err = errors.InvalidArgument("unknown message type " + string(env.Type))
	}

	if err != nil {
		c.hub.SendError(ctx, id, err)
	}
}
