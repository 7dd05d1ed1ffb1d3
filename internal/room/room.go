// internal/room/room.go
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taprush/taprush/internal/models"
)

// Room owns one contest's participant set, status, and pending timers. Status
// only ever advances waiting -> active -> finished. All mutation happens under
// Mu; methods with the Unsafe suffix assume the caller holds it.
type Room struct {
	ID        uuid.UUID
	CreatorID uuid.UUID
	Type      models.RoomType
	EntryFee  decimal.Decimal
	Capacity  int

	Status models.RoomStatus

	// JoinCode is set only for hero rooms and is unique across live rooms.
	JoinCode string

	WaitingPeriod time.Duration
	GameDuration  time.Duration

	// GameID is set once the room goes active.
	GameID uuid.UUID

	CreatedAt time.Time

	Participants map[uuid.UUID]*models.Participant

	// waitingTimer forces a start (standard rooms); autoDeleteTimer discards
	// an unfilled hero room. Fire handlers re-check Status, so a lost race
	// with Stop is harmless.
	waitingTimer    *time.Timer
	autoDeleteTimer *time.Timer

	Mu sync.Mutex
}

// payingCountUnsafe counts participants occupying capacity slots.
// Observers never count. Assumes lock is held.
func (r *Room) payingCountUnsafe() int {
	n := 0
	for _, p := range r.Participants {
		if !p.Observer {
			n++
		}
	}
	return n
}

// paidParticipantsUnsafe returns the users owed a refund if the room is torn
// down before starting. Assumes lock is held.
func (r *Room) paidParticipantsUnsafe() []uuid.UUID {
	var out []uuid.UUID
	for _, p := range r.Participants {
		if p.Paid {
			out = append(out, p.UserID)
		}
	}
	return out
}

// cancelTimersUnsafe stops any pending timers. Assumes lock is held.
func (r *Room) cancelTimersUnsafe() {
	if r.waitingTimer != nil {
		r.waitingTimer.Stop()
		r.waitingTimer = nil
	}
	if r.autoDeleteTimer != nil {
		r.autoDeleteTimer.Stop()
		r.autoDeleteTimer = nil
	}
}

// InfoUnsafe snapshots the room for clients. Assumes lock is held.
func (r *Room) InfoUnsafe() models.RoomInfo {
	parts := make([]models.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		parts = append(parts, *p)
	}
	return models.RoomInfo{
		ID:            r.ID,
		CreatorID:     r.CreatorID,
		Type:          r.Type,
		EntryFee:      r.EntryFee,
		Capacity:      r.Capacity,
		Status:        r.Status,
		JoinCode:      r.JoinCode,
		WaitingPeriod: r.WaitingPeriod,
		GameDuration:  r.GameDuration,
		GameID:        r.GameID,
		Participants:  parts,
		CreatedAt:     r.CreatedAt,
	}
}

// Info snapshots the room, acquiring the lock.
func (r *Room) Info() models.RoomInfo {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.InfoUnsafe()
}
