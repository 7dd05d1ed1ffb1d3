package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taprush/taprush/internal/models"
)

// GameArchive persists settled games and their tap logs for audits and
// history. Nothing on the hot path reads from here.
type GameArchive struct {
	pool *pgxpool.Pool
}

func NewGameArchive(pool *pgxpool.Pool) *GameArchive {
	return &GameArchive{pool: pool}
}

func (a *GameArchive) SaveGame(ctx context.Context, g models.Game) error {
	q := `INSERT INTO games (id, room_id, room_type, start_time, end_time, winner_id, prize_pool, duration_ms)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	      ON CONFLICT (id) DO NOTHING`

	err := pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			g.ID, g.RoomID, g.RoomType, g.StartTime, g.EndTime,
			g.WinnerID, g.PrizePool, g.Duration.Milliseconds(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert game %s: %w", g.ID, err)
	}
	return nil
}

func (a *GameArchive) SaveTaps(ctx context.Context, taps []models.TapRecord) error {
	if len(taps) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(taps))
	for _, t := range taps {
		rows = append(rows, []interface{}{t.GameID, t.UserID, t.Count, t.Timestamp})
	}
	_, err := a.pool.CopyFrom(ctx,
		pgx.Identifier{"tap_records"},
		[]string{"game_id", "user_id", "count", "ts"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy %d tap records: %w", len(taps), err)
	}
	return nil
}
