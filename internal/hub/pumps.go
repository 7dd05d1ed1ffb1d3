// internal/hub/pumps.go
package hub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/taprush/taprush/internal/models"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	pingTimeout  = 15 * time.Second
)

// ReadPump reads envelopes off the websocket and routes them until the
// connection or context dies. Blocks; the caller runs cleanup afterwards.
func (h *Hub) ReadPump(ctx context.Context, c *websocket.Conn, conn *Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.logger.WithField("user", conn.UserID).Info("websocket closed normally")
			} else if !strings.Contains(err.Error(), "context canceled") {
				h.logger.WithField("user", conn.UserID).Warnf("websocket read error: %v", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			conn.SendError("invalid JSON")
			continue
		}
		// The sender identity always comes from the authenticated session,
		// never from the payload.
		env.UserID = conn.UserID
		h.Route(ctx, conn, env)
	}
}

// WritePump drains the connection's out channel onto the websocket and keeps
// the connection alive with periodic pings.
func (h *Hub) WritePump(ctx context.Context, c *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-conn.OutChan:
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.WithField("user", conn.UserID).Warnf("failed to marshal outgoing envelope: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.WithField("user", conn.UserID).Warnf("websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.WithField("user", conn.UserID).Warnf("ping failed, assuming disconnect: %v", err)
				return
			}
		}
	}
}
