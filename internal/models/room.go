package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoomType selects the lifecycle policy for a room.
type RoomType string

const (
	RoomStandard RoomType = "standard"
	RoomBonus    RoomType = "bonus"
	RoomHero     RoomType = "hero"
)

// RoomStatus only ever advances: waiting -> active -> finished.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomFinished RoomStatus = "finished"
)

// RoomInfo is the serializable snapshot of a room handed to HTTP clients and
// included in room_update broadcasts. The live state (participants, timers,
// mutex) stays inside the room package.
type RoomInfo struct {
	ID            uuid.UUID       `json:"id"`
	CreatorID     uuid.UUID       `json:"creator_id"`
	Type          RoomType        `json:"type"`
	EntryFee      decimal.Decimal `json:"entry_fee"`
	Capacity      int             `json:"capacity"`
	Status        RoomStatus      `json:"status"`
	JoinCode      string          `json:"join_code,omitempty"`
	WaitingPeriod time.Duration   `json:"waiting_period"`
	GameDuration  time.Duration   `json:"game_duration"`
	GameID        uuid.UUID       `json:"game_id,omitempty"`
	Participants  []Participant   `json:"participants"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Participant is one (room, user) membership. A user appears at most once per
// room. Observers occupy no capacity slot, pay no fee, and cannot win.
type Participant struct {
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	Observer bool      `json:"observer"`
	Paid     bool      `json:"paid"`
	JoinedAt time.Time `json:"joined_at"`
}
