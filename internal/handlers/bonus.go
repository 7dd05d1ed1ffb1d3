// internal/handlers/bonus.go
package handlers

import (
	"encoding/json"
	"net/http"
)

// StartBonusHandler opens the caller's bonus challenge window.
func (s *Server) StartBonusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	p, err := s.Bonus.Start(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type pauseBonusRequest struct {
	Paused bool `json:"paused"`
}

// PauseBonusHandler pauses or resumes the caller's challenge.
func (s *Server) PauseBonusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req pauseBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	p, err := s.Bonus.Pause(userID, req.Paused)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type tapBonusRequest struct {
	Count int64 `json:"count"`
}

// TapBonusHandler adds taps to the caller's challenge. The reward settles
// inside the service the moment the goal is crossed.
func (s *Server) TapBonusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req tapBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Count <= 0 {
		http.Error(w, "count must be a positive integer", http.StatusBadRequest)
		return
	}
	p, err := s.Bonus.Tap(r.Context(), userID, req.Count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetBonusHandler reports the caller's challenge progress.
func (s *Server) GetBonusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	p, running := s.Bonus.Progress(userID)
	if !running {
		http.Error(w, "no bonus challenge is running", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
