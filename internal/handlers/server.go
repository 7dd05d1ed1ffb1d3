// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/anticheat"
	"github.com/taprush/taprush/internal/auth"
	"github.com/taprush/taprush/internal/bonus"
	"github.com/taprush/taprush/internal/cache"
	"github.com/taprush/taprush/internal/game"
	"github.com/taprush/taprush/internal/hub"
	"github.com/taprush/taprush/internal/leaderboard"
	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/room"
)

// Server bundles every service the HTTP and websocket handlers reach into.
type Server struct {
	Manager    *room.Manager
	Engine     *game.Engine
	Hub        *hub.Hub
	Ledger     *ledger.Ledger
	Board      *leaderboard.Board
	Bonus      *bonus.Service
	Reconciler *cache.Reconciler
	Logger     *logrus.Logger
}

func NewServer(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{Logger: logger}
}

// requireUser authenticates the request via the auth_token cookie. Writes the
// error response itself when authentication fails.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		http.Error(w, "missing auth token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	userIDStr, err := auth.AuthenticateJWT(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusForbidden)
		return uuid.Nil, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps service errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, room.ErrNotCreator):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, room.ErrRoomFull), errors.Is(err, room.ErrNotWaiting),
		errors.Is(err, bonus.ErrAlreadyRunning), errors.Is(err, bonus.ErrChallengePaused),
		errors.Is(err, bonus.ErrExpired):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, room.ErrBadFee), errors.Is(err, leaderboard.ErrBadPeriod):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, room.ErrBalanceLow):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, bonus.ErrNotRunning), errors.Is(err, ledger.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, anticheat.ErrFlagged), errors.Is(err, anticheat.ErrRateExceeded),
		errors.Is(err, anticheat.ErrTapTooLarge):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
