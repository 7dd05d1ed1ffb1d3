// internal/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/taprush/taprush/internal/middleware"
)

// Router assembles the full HTTP surface.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// user endpoints
	r.HandleFunc("/user/create", CreateUserHandler).Methods(http.MethodPost)
	r.HandleFunc("/user/login", LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/user/me", s.MeHandler).Methods(http.MethodGet)

	// room endpoints
	r.HandleFunc("/rooms", s.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/standard", s.CreateStandardRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/rooms/hero", s.CreateHeroRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/rooms/hero/{code}", s.GetHeroRoomByCodeHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/auto-join", s.AutoJoinHandler).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{id}", s.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}", s.DeleteRoomHandler).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{id}/join", s.JoinRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{id}/leave", s.LeaveRoomHandler).Methods(http.MethodPost)

	// bonus challenge endpoints
	r.HandleFunc("/bonus", s.GetBonusHandler).Methods(http.MethodGet)
	r.HandleFunc("/bonus/start", s.StartBonusHandler).Methods(http.MethodPost)
	r.HandleFunc("/bonus/pause", s.PauseBonusHandler).Methods(http.MethodPost)
	r.HandleFunc("/bonus/tap", s.TapBonusHandler).Methods(http.MethodPost)

	// leaderboards
	r.HandleFunc("/leaderboard/{period}", s.LeaderboardHandler).Methods(http.MethodGet)

	// operator surface
	r.HandleFunc("/admin/payouts", s.PendingPayoutsHandler).Methods(http.MethodGet)

	// realtime
	r.HandleFunc("/ws", s.WSHandler).Methods(http.MethodGet)

	return middleware.LogMiddleware(s.Logger)(r)
}
