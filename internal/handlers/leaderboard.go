// internal/handlers/leaderboard.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/taprush/taprush/internal/leaderboard"
)

const defaultLeaderboardSize = 20

// LeaderboardHandler returns the top tappers for a rolling window. The period
// comes from the path; ?limit= caps the row count.
func (s *Server) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	period := leaderboard.Period(mux.Vars(r)["period"])

	limit := int64(defaultLeaderboardSize)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n > 100 {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.Board.Top(r.Context(), period, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period":  period,
		"entries": entries,
	})
}

// PendingPayoutsHandler exposes the failed-payout queue for operators.
func (s *Server) PendingPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	pending, err := s.Reconciler.PendingPayouts(r.Context(), 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}
