// internal/hub/hub.go

// Package hub owns the realtime side of the service: the connection registry,
// per-room fan-out, and routing of inbound envelopes into the room manager and
// game engine.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/game"
	"github.com/taprush/taprush/internal/models"
	"github.com/taprush/taprush/internal/room"
)

// Hub maps users to connections and rooms to member connections. It is the
// single Broadcaster implementation behind both the room manager and the game
// engine.
type Hub struct {
	mu      sync.Mutex
	conns   map[uuid.UUID]*Connection
	members map[uuid.UUID]map[uuid.UUID]*Connection

	manager *room.Manager
	engine  *game.Engine
	logger  *logrus.Logger
}

func New(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		conns:   make(map[uuid.UUID]*Connection),
		members: make(map[uuid.UUID]map[uuid.UUID]*Connection),
		logger:  logger,
	}
}

// Wire attaches the manager and engine after construction; both need the hub
// as their broadcaster, so the composition root ties the cycle together.
func (h *Hub) Wire(m *room.Manager, e *game.Engine) {
	h.manager = m
	h.engine = e
}

// Register admits a connection for a user. An existing session for the same
// user is evicted: the newest connection wins.
func (h *Hub) Register(userID uuid.UUID, cancel context.CancelFunc) *Connection {
	conn := newConnection(userID, cancel)

	h.mu.Lock()
	prev := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if prev != nil {
		prev.SendError("superseded by a newer connection")
		prev.close()
		h.logger.WithField("user", userID).Info("evicted older connection")
	}
	return conn
}

// Unregister drops a connection. A stale instance (already superseded by a
// newer session for the same user) is ignored. The disconnect counts as a
// leave for every room the connection had joined.
func (h *Hub) Unregister(conn *Connection) {
	rooms := conn.Rooms()

	h.mu.Lock()
	current := h.conns[conn.UserID] == conn
	if current {
		delete(h.conns, conn.UserID)
	}
	for _, roomID := range rooms {
		if set, ok := h.members[roomID]; ok && set[conn.UserID] == conn {
			delete(set, conn.UserID)
			if len(set) == 0 {
				delete(h.members, roomID)
			}
		}
	}
	h.mu.Unlock()

	conn.close()
	if !current || h.manager == nil {
		return
	}

	// Leave only applies to waiting rooms; an active game keeps the seat so
	// the player can reconnect.
	for _, roomID := range rooms {
		err := h.manager.Leave(context.Background(), roomID, conn.UserID)
		if err != nil && !errors.Is(err, room.ErrNotWaiting) && !errors.Is(err, room.ErrNotFound) {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"user": conn.UserID, "room": roomID,
			}).Warn("leave on disconnect failed")
		}
	}
}

// ConnectionFor returns the live connection for a user, if any.
func (h *Hub) ConnectionFor(userID uuid.UUID) (*Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[userID]
	return c, ok
}

// BroadcastRoom fans an envelope out to every member connection of a room.
// Sends never block; slow clients lose events. Terminal events also clear the
// room's membership so the maps cannot leak.
func (h *Hub) BroadcastRoom(roomID uuid.UUID, env models.Envelope) {
	env.Timestamp = time.Now().UnixMilli()

	h.mu.Lock()
	set := h.members[roomID]
	targets := make([]*Connection, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	if env.Type == models.MsgRoomDeleted || env.Type == models.MsgGameEnd {
		delete(h.members, roomID)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range targets {
		if !c.Send(env) {
			dropped++
		}
		if env.Type == models.MsgRoomDeleted || env.Type == models.MsgGameEnd {
			c.removeRoom(roomID)
		}
	}
	if dropped > 0 {
		h.logger.WithFields(logrus.Fields{
			"room": roomID, "type": env.Type, "dropped": dropped,
		}).Warn("slow clients dropped a broadcast")
	}
}

// SendToUser delivers an envelope to one user's live connection, if any.
func (h *Hub) SendToUser(userID uuid.UUID, env models.Envelope) bool {
	c, ok := h.ConnectionFor(userID)
	if !ok {
		return false
	}
	env.Timestamp = time.Now().UnixMilli()
	return c.Send(env)
}

// subscribe adds the connection to a room's fan-out set before the manager
// join runs, so the joiner sees their own player_join event.
func (h *Hub) subscribe(conn *Connection, roomID uuid.UUID) {
	h.mu.Lock()
	set, ok := h.members[roomID]
	if !ok {
		set = make(map[uuid.UUID]*Connection)
		h.members[roomID] = set
	}
	set[conn.UserID] = conn
	h.mu.Unlock()
	conn.addRoom(roomID)
}

func (h *Hub) unsubscribe(conn *Connection, roomID uuid.UUID) {
	h.mu.Lock()
	if set, ok := h.members[roomID]; ok && set[conn.UserID] == conn {
		delete(set, conn.UserID)
		if len(set) == 0 {
			delete(h.members, roomID)
		}
	}
	h.mu.Unlock()
	conn.removeRoom(roomID)
}

// Route dispatches one inbound envelope. Validation failures and rejected
// operations come back to the sender as error envelopes; they never close the
// connection.
func (h *Hub) Route(ctx context.Context, conn *Connection, env models.Envelope) {
	switch env.Type {
	case models.MsgJoinRoom:
		h.handleJoin(ctx, conn, env)
	case models.MsgLeaveRoom:
		h.handleLeave(ctx, conn, env)
	case models.MsgTap:
		h.handleTap(ctx, conn, env)
	case models.MsgPlayerReaction:
		h.handleReaction(conn, env)
	default:
		conn.SendError("unknown message type: " + string(env.Type))
	}
}

func (h *Hub) handleJoin(ctx context.Context, conn *Connection, env models.Envelope) {
	data, err := env.JoinData()
	if err != nil {
		conn.SendError(err.Error())
		return
	}
	h.subscribe(conn, env.RoomID)
	if err := h.manager.Join(ctx, env.RoomID, conn.UserID, data.AsObserver); err != nil {
		h.unsubscribe(conn, env.RoomID)
		conn.SendError(err.Error())
		return
	}
}

func (h *Hub) handleLeave(ctx context.Context, conn *Connection, env models.Envelope) {
	roomID := env.RoomID
	if roomID == uuid.Nil {
		roomID = conn.Room()
	}
	if roomID == uuid.Nil {
		conn.SendError(models.ErrMissingRoomID.Error())
		return
	}
	if err := h.manager.Leave(ctx, roomID, conn.UserID); err != nil {
		conn.SendError(err.Error())
		return
	}
	h.unsubscribe(conn, roomID)
}

func (h *Hub) handleTap(ctx context.Context, conn *Connection, env models.Envelope) {
	data, err := env.TapData()
	if err != nil {
		conn.SendError(err.Error())
		return
	}
	roomID := env.RoomID
	if roomID == uuid.Nil {
		roomID = conn.Room()
	}
	g, ok := h.engine.GameForRoom(roomID)
	if !ok {
		conn.SendError(game.ErrGameNotFound.Error())
		return
	}
	if _, err := h.engine.RecordTap(ctx, g.ID, conn.UserID, data.Count, time.Now()); err != nil {
		conn.SendError(err.Error())
	}
}

// handleReaction relays a validated reaction to the sender's room. Reactions
// are social noise; they touch no game state.
func (h *Hub) handleReaction(conn *Connection, env models.Envelope) {
	data, err := env.ReactionData()
	if err != nil {
		conn.SendError(err.Error())
		return
	}
	roomID := env.RoomID
	if roomID == uuid.Nil {
		roomID = conn.Room()
	}
	if roomID == uuid.Nil {
		conn.SendError(models.ErrMissingRoomID.Error())
		return
	}
	out := models.NewEvent(models.MsgPlayerReaction, roomID, map[string]interface{}{
		"from_user_id": conn.UserID,
		"to_user_id":   data.ToUserID,
		"reaction":     data.Reaction,
	})
	h.BroadcastRoom(roomID, out)
}
