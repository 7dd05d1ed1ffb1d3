package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MessageType enumerates every message exchanged over a client connection,
// inbound and outbound.
type MessageType string

const (
	MsgJoinRoom       MessageType = "join_room"
	MsgLeaveRoom      MessageType = "leave_room"
	MsgTap            MessageType = "tap"
	MsgGameStart      MessageType = "game_start"
	MsgGameEnd        MessageType = "game_end"
	MsgPlayerReaction MessageType = "player_reaction"
	MsgPlayerJoin     MessageType = "player_join"
	MsgPlayerLeave    MessageType = "player_leave"
	MsgRoomUpdate     MessageType = "room_update"
	MsgRoomDeleted    MessageType = "room_deleted"
	MsgError          MessageType = "error"
)

// Envelope is the wire shape for every realtime message. Data is decoded into
// the payload type matching Type at the transport boundary; core logic never
// sees raw JSON.
type Envelope struct {
	Type      MessageType     `json:"type"`
	UserID    uuid.UUID       `json:"user_id,omitempty"`
	RoomID    uuid.UUID       `json:"room_id,omitempty"`
	GameID    uuid.UUID       `json:"game_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

var (
	ErrMissingRoomID = errors.New("missing room_id")
	ErrBadTapCount   = errors.New("tap count must be a positive integer")
	ErrBadReaction   = errors.New("reaction requires to_user_id and reaction")
)

// JoinRoomData carries the observer flag for join_room messages.
type JoinRoomData struct {
	AsObserver bool `json:"as_observer,omitempty"`
}

// TapData is the payload of an inbound tap message.
type TapData struct {
	Count int `json:"count"`
}

// ReactionData is the payload of a player_reaction message.
type ReactionData struct {
	ToUserID uuid.UUID `json:"to_user_id"`
	Reaction string    `json:"reaction"`
}

// JoinData decodes and validates a join_room payload. A missing data field is
// a plain (non-observer) join.
func (e *Envelope) JoinData() (JoinRoomData, error) {
	var d JoinRoomData
	if e.RoomID == uuid.Nil {
		return d, ErrMissingRoomID
	}
	if len(e.Data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("invalid join_room data: %w", err)
	}
	return d, nil
}

// TapData decodes and validates a tap payload. Count must be > 0; the
// per-message ceiling is enforced later by the tap monitor.
func (e *Envelope) TapData() (TapData, error) {
	var d TapData
	if len(e.Data) == 0 {
		return d, ErrBadTapCount
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("invalid tap data: %w", err)
	}
	if d.Count <= 0 {
		return d, ErrBadTapCount
	}
	return d, nil
}

// ReactionData decodes and validates a player_reaction payload.
func (e *Envelope) ReactionData() (ReactionData, error) {
	var d ReactionData
	if len(e.Data) == 0 {
		return d, ErrBadReaction
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("invalid reaction data: %w", err)
	}
	if d.ToUserID == uuid.Nil || d.Reaction == "" {
		return d, ErrBadReaction
	}
	return d, nil
}

// NewEvent builds an outbound envelope, marshaling data in place. Marshal
// failures are impossible for the event payload types we construct, so the
// error is swallowed and the data field left empty.
func NewEvent(t MessageType, roomID uuid.UUID, data interface{}) Envelope {
	env := Envelope{Type: t, RoomID: roomID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			env.Data = raw
		}
	}
	return env
}

// NewError builds an outbound error envelope for a single client.
func NewError(msg string) Envelope {
	raw, _ := json.Marshal(map[string]string{"message": msg})
	return Envelope{Type: MsgError, Data: raw}
}
