// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/taprush/taprush/internal/middleware"
)

// WSHandler upgrades the connection, authenticates the user (creating a guest
// on the fly if needed), registers the session with the hub, and runs the
// pumps until the client goes away.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"taprush"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "taprush" {
		c.Close(websocket.StatusPolicyViolation, "client must speak the taprush subprotocol")
		return
	}

	userID, err := EnsureEphemeralUser(w, r)
	if err != nil {
		s.Logger.Warnf("user authentication failed for websocket: %v", err)
		c.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := s.Hub.Register(userID, cancel)
	middleware.LogWebSocketConnect(s.Logger, remoteAddr, r.URL.Path)

	go s.Hub.WritePump(ctx, c, conn)
	s.Hub.ReadPump(ctx, c, conn)

	s.Hub.Unregister(conn)
	middleware.LogWebSocketDisconnect(s.Logger, remoteAddr, r.URL.Path, nil)
}
