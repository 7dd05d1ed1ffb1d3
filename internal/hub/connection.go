// internal/hub/connection.go
package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/taprush/taprush/internal/models"
)

// outChanSize bounds the per-connection send queue. A client that cannot keep
// up gets events dropped rather than stalling the broadcaster.
const outChanSize = 32

// Connection is one live websocket session. A user has at most one; a newer
// session evicts the older one. One connection may sit in several rooms at
// once (e.g. observing one while waiting in another).
type Connection struct {
	UserID uuid.UUID

	// OutChan carries outbound envelopes to the write pump.
	OutChan chan models.Envelope

	// Cancel tears down both pumps.
	Cancel context.CancelFunc

	mu     sync.Mutex
	rooms  map[uuid.UUID]struct{}
	closed bool
}

func newConnection(userID uuid.UUID, cancel context.CancelFunc) *Connection {
	return &Connection{
		UserID:  userID,
		OutChan: make(chan models.Envelope, outChanSize),
		Cancel:  cancel,
		rooms:   make(map[uuid.UUID]struct{}),
	}
}

// Rooms snapshots every room this connection has joined.
func (c *Connection) Rooms() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Room returns the joined room when there is exactly one. Envelopes that omit
// room_id fall back to it; a sender sitting in several rooms must be explicit.
func (c *Connection) Room() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rooms) == 1 {
		for id := range c.rooms {
			return id
		}
	}
	return uuid.Nil
}

func (c *Connection) addRoom(id uuid.UUID) {
	c.mu.Lock()
	c.rooms[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeRoom(id uuid.UUID) {
	c.mu.Lock()
	delete(c.rooms, id)
	c.mu.Unlock()
}

// Send queues an envelope without blocking. Returns false when the queue is
// full or the connection is closed; the event is dropped for this client.
func (c *Connection) Send(env models.Envelope) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.OutChan <- env:
		return true
	default:
		return false
	}
}

// SendError queues an error envelope for this client only.
func (c *Connection) SendError(msg string) {
	c.Send(models.NewError(msg))
}

// close cancels the pumps and marks the connection dead. Idempotent. The
// OutChan is never closed; the write pump exits on context cancellation, which
// keeps late Sends safe.
func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if c.Cancel != nil {
		c.Cancel()
	}
}
