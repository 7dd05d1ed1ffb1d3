// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/taprush/taprush/internal/models"
)

type createRoomRequest struct {
	EntryFee decimal.Decimal `json:"entry_fee"`
	Capacity int             `json:"capacity"`
}

// CreateStandardRoomHandler opens a public waiting room.
func (s *Server) CreateStandardRoomHandler(w http.ResponseWriter, r *http.Request) {
	s.createRoom(w, r, models.RoomStandard)
}

// CreateHeroRoomHandler opens a private join-code room.
func (s *Server) CreateHeroRoomHandler(w http.ResponseWriter, r *http.Request) {
	s.createRoom(w, r, models.RoomHero)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request, typ models.RoomType) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	rm, err := s.Manager.Create(r.Context(), userID, typ, req.EntryFee, req.Capacity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rm.Info())
}

// GetRoomHandler returns a room snapshot by id.
func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	rm, ok := s.Manager.Get(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}

// GetHeroRoomByCodeHandler resolves a hero room from its join code.
func (s *Server) GetHeroRoomByCodeHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	rm, ok := s.Manager.ByCode(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}

// ListRoomsHandler returns snapshots of every live room.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Manager.List())
}

type joinRoomRequest struct {
	AsObserver bool `json:"as_observer"`
}

// JoinRoomHandler joins the caller to a waiting room, charging the entry fee.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	roomID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	var req joinRoomRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
	}
	if err := s.Manager.Join(r.Context(), roomID, userID, req.AsObserver); err != nil {
		writeDomainError(w, err)
		return
	}
	rm, found := s.Manager.Get(roomID)
	if !found {
		// The join raced the room's teardown; tell the client to retry.
		http.Error(w, "room is gone", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}

// LeaveRoomHandler removes the caller from a waiting room, refunding the fee.
func (s *Server) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	roomID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if err := s.Manager.Leave(r.Context(), roomID, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRoomHandler tears a room down. Creator only; participants are
// refunded, a running game is cancelled without a payout.
func (s *Server) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	roomID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	if err := s.Manager.Delete(r.Context(), roomID, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type autoJoinRequest struct {
	EntryFee decimal.Decimal `json:"entry_fee"`
}

// AutoJoinHandler drops the caller into any waiting standard room with the
// requested fee, creating one when nothing matches.
func (s *Server) AutoJoinHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req autoJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	rm, err := s.Manager.AutoJoin(r.Context(), userID, req.EntryFee)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}
