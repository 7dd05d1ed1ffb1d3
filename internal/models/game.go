package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Game is the settled record of one contest. EndTime and WinnerID are written
// exactly once, by exactly one settlement execution keyed on the game id.
type Game struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    uuid.UUID       `json:"room_id"`
	RoomType  RoomType        `json:"room_type"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	WinnerID  *uuid.UUID      `json:"winner_id,omitempty"`
	PrizePool decimal.Decimal `json:"prize_pool"`
	Duration  time.Duration   `json:"duration"`
}

// TapRecord is one batched tap increment, append-only. The sum of a user's
// records in a game is the sole source of truth for that user's score.
type TapRecord struct {
	GameID    uuid.UUID `json:"game_id"`
	UserID    uuid.UUID `json:"user_id"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// BonusProgress tracks a user's long-running tap challenge. Completed guards
// the one-time reward so it cannot fire twice for the same window.
type BonusProgress struct {
	UserID    uuid.UUID `json:"user_id"`
	Taps      int64     `json:"taps"`
	Goal      int64     `json:"goal"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Paused    bool      `json:"paused"`
	Completed bool      `json:"completed"`
}
