// internal/game/engine.go
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/anticheat"
	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
	"github.com/taprush/taprush/internal/room"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrGameOver     = errors.New("game has ended")
	ErrNotPlayer    = errors.New("user is not a player in this game")
)

// Broadcaster fans an event out to a room's live connections.
type Broadcaster interface {
	BroadcastRoom(roomID uuid.UUID, env models.Envelope)
}

// Scoreboard receives accepted taps for leaderboard upkeep. Best effort; a
// failure never rejects the tap.
type Scoreboard interface {
	RecordTaps(ctx context.Context, userID uuid.UUID, count int) error
}

// Reconciler records prize credits that failed so they can be retried by hand.
// The game still finalizes; the prize must not be silently lost.
type Reconciler interface {
	EnqueueFailedPayout(ctx context.Context, gameID, winnerID uuid.UUID, amount decimal.Decimal, reason string) error
}

// BonusSettler settles a bonus challenge at game end: pays the fixed reward
// once if the cumulative taps crossed the goal and it has not paid before.
type BonusSettler interface {
	Settle(ctx context.Context, userID uuid.UUID, taps int64) (bool, error)
}

// Archiver persists finished games and their tap records.
type Archiver interface {
	SaveGame(ctx context.Context, g models.Game) error
	SaveTaps(ctx context.Context, taps []models.TapRecord) error
}

// Game holds one running contest in memory. Taps and end are serialized on
// mu, which is what guarantees every tap accepted before the end fires counts
// toward the winner.
type Game struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	RoomType  models.RoomType
	StartTime time.Time
	Duration  time.Duration
	PrizePool decimal.Decimal

	players map[uuid.UUID]bool

	mu      sync.Mutex
	taps    []models.TapRecord
	totals  map[uuid.UUID]int
	ended   bool
	endTime time.Time
	winner  uuid.UUID
	timer   *time.Timer
}

// Snapshot returns the settled record of this game.
func (g *Game) Snapshot() models.Game {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := models.Game{
		ID:        g.ID,
		RoomID:    g.RoomID,
		RoomType:  g.RoomType,
		StartTime: g.StartTime,
		PrizePool: g.PrizePool,
		Duration:  g.Duration,
	}
	if g.ended {
		et := g.endTime
		out.EndTime = &et
		if g.winner != uuid.Nil {
			w := g.winner
			out.WinnerID = &w
		}
	}
	return out
}

// Totals returns a copy of the current per-user tap totals.
func (g *Game) Totals() map[uuid.UUID]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[uuid.UUID]int, len(g.totals))
	for k, v := range g.totals {
		out[k] = v
	}
	return out
}

// Engine owns every running game: duration timers, tap ingestion, and
// exactly-once settlement.
type Engine struct {
	mu    sync.Mutex
	games map[uuid.UUID]*Game

	ledger      *ledger.Ledger
	monitor     *anticheat.Monitor
	broadcaster Broadcaster

	scoreboard   Scoreboard
	reconciler   Reconciler
	bonusSettler BonusSettler
	archiver     Archiver

	// onEnd transitions the owning room to finished. Wired by the
	// composition root to the room manager.
	onEnd func(roomID, gameID uuid.UUID)

	logger *logrus.Logger
}

func NewEngine(l *ledger.Ledger, monitor *anticheat.Monitor, b Broadcaster, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		games:       make(map[uuid.UUID]*Game),
		ledger:      l,
		monitor:     monitor,
		broadcaster: b,
		logger:      logger,
	}
}

// SetScoreboard wires the leaderboard sink. Optional.
func (e *Engine) SetScoreboard(s Scoreboard) { e.scoreboard = s }

// SetReconciler wires the failed-payout queue. Optional.
func (e *Engine) SetReconciler(r Reconciler) { e.reconciler = r }

// SetBonusSettler wires bonus challenge settlement. Optional.
func (e *Engine) SetBonusSettler(b BonusSettler) { e.bonusSettler = b }

// SetArchiver wires durable storage for finished games. Optional.
func (e *Engine) SetArchiver(a Archiver) { e.archiver = a }

// SetOnEnd wires the room-finish callback.
func (e *Engine) SetOnEnd(fn func(roomID, gameID uuid.UUID)) { e.onEnd = fn }

// Start creates a running game from a frozen room snapshot, arms the duration
// timer, and broadcasts game_start. Satisfies room.GameStarter.
func (e *Engine) Start(req room.StartRequest) uuid.UUID {
	g := &Game{
		ID:        uuid.New(),
		RoomID:    req.RoomID,
		RoomType:  req.RoomType,
		StartTime: time.Now(),
		Duration:  req.Duration,
		PrizePool: req.PrizePool,
		players:   make(map[uuid.UUID]bool, len(req.Players)),
		totals:    make(map[uuid.UUID]int),
	}
	for _, uid := range req.Players {
		g.players[uid] = true
	}

	e.mu.Lock()
	e.games[g.ID] = g
	e.mu.Unlock()

	g.mu.Lock()
	g.timer = time.AfterFunc(req.Duration, func() {
		if err := e.End(context.Background(), g.ID); err != nil {
			e.logger.WithError(err).WithField("game", g.ID).Error("duration timer end failed")
		}
	})
	g.mu.Unlock()

	e.broadcast(req.RoomID, models.NewEvent(models.MsgGameStart, req.RoomID, map[string]interface{}{
		"game_id":     g.ID,
		"duration_ms": req.Duration.Milliseconds(),
		"prize_pool":  req.PrizePool,
		"players":     req.Players,
	}))
	e.logger.WithFields(logrus.Fields{
		"game": g.ID, "room": req.RoomID, "players": len(req.Players),
	}).Info("game running")
	return g.ID
}

// Get returns a running game by id.
func (e *Engine) Get(gameID uuid.UUID) (*Game, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.games[gameID]
	return g, ok
}

// GameForRoom finds the running game owned by a room.
func (e *Engine) GameForRoom(roomID uuid.UUID) (*Game, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.games {
		if g.RoomID == roomID {
			return g, true
		}
	}
	return nil, false
}

// RecordTap ingests one tap batch. The abuse check runs first; an accepted
// batch is appended to the game's tap log and the user's new total returned.
func (e *Engine) RecordTap(ctx context.Context, gameID, userID uuid.UUID, count int, ts time.Time) (int, error) {
	g, ok := e.Get(gameID)
	if !ok {
		return 0, ErrGameNotFound
	}

	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return 0, ErrGameOver
	}
	if !g.players[userID] {
		g.mu.Unlock()
		return 0, ErrNotPlayer
	}
	if err := e.monitor.Check(gameID, userID, count, ts); err != nil {
		g.mu.Unlock()
		return 0, err
	}
	g.taps = append(g.taps, models.TapRecord{
		GameID:    gameID,
		UserID:    userID,
		Count:     count,
		Timestamp: ts,
	})
	g.totals[userID] += count
	total := g.totals[userID]
	roomID := g.RoomID
	g.mu.Unlock()

	if e.scoreboard != nil {
		if err := e.scoreboard.RecordTaps(ctx, userID, count); err != nil {
			e.logger.WithError(err).WithField("user", userID).Warn("leaderboard update failed")
		}
	}

	e.broadcast(roomID, models.NewEvent(models.MsgTap, roomID, map[string]interface{}{
		"game_id": gameID,
		"user_id": userID,
		"count":   count,
		"total":   total,
	}))
	return total, nil
}

// End settles a game exactly once: a duplicate call (late timer, manual
// trigger) is a no-op. The winner is the user with the strictly highest tap
// total; on a tie, the user whose running total reached the maximum first in
// tap-record order.
func (e *Engine) End(ctx context.Context, gameID uuid.UUID) error {
	g, ok := e.Get(gameID)
	if !ok {
		return ErrGameNotFound
	}

	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return nil
	}
	g.ended = true
	g.endTime = time.Now()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.winner = computeWinner(g.taps)
	winner := g.winner
	prize := g.PrizePool
	roomID := g.RoomID
	roomType := g.RoomType
	totals := make(map[uuid.UUID]int, len(g.totals))
	for k, v := range g.totals {
		totals[k] = v
	}
	taps := make([]models.TapRecord, len(g.taps))
	copy(taps, g.taps)
	g.mu.Unlock()

	e.settle(ctx, gameID, roomType, winner, prize, totals)

	payload := map[string]interface{}{
		"game_id":    gameID,
		"prize_pool": prize,
		"totals":     stringKeyedTotals(totals),
	}
	if winner != uuid.Nil {
		payload["winner"] = winner
	}
	e.broadcast(roomID, models.NewEvent(models.MsgGameEnd, roomID, payload))

	if e.onEnd != nil {
		e.onEnd(roomID, gameID)
	}
	e.archive(g, taps)
	e.removeGame(gameID)

	e.logger.WithFields(logrus.Fields{
		"game": gameID, "winner": winner, "prize_pool": prize,
	}).Info("game settled")
	return nil
}

// settle moves the prize. A ledger failure is logged and queued for manual
// reconciliation; the game stays finalized either way.
func (e *Engine) settle(ctx context.Context, gameID uuid.UUID, roomType models.RoomType, winner uuid.UUID, prize decimal.Decimal, totals map[uuid.UUID]int) {
	if winner == uuid.Nil {
		return
	}

	if roomType == models.RoomBonus {
		if e.bonusSettler == nil {
			return
		}
		completed, err := e.bonusSettler.Settle(ctx, winner, int64(totals[winner]))
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"game": gameID, "user": winner,
			}).Error("bonus settlement failed")
		} else if completed {
			e.logger.WithFields(logrus.Fields{"game": gameID, "user": winner}).Info("bonus challenge completed")
		}
		return
	}

	if !prize.IsPositive() {
		return
	}
	err := e.ledger.Credit(ctx, winner, prize, models.TxPayout, "prize for game "+gameID.String())
	if err == nil {
		return
	}
	e.logger.WithError(err).WithFields(logrus.Fields{
		"game": gameID, "winner": winner, "amount": prize,
	}).Error("prize credit failed; queueing for reconciliation")
	if e.reconciler != nil {
		if qerr := e.reconciler.EnqueueFailedPayout(ctx, gameID, winner, prize, err.Error()); qerr != nil {
			e.logger.WithError(qerr).WithField("game", gameID).Error("reconciliation enqueue failed")
		}
	}
}

// Cancel tears down a running game without settlement (room deleted mid-game).
// Satisfies room.GameCanceller.
func (e *Engine) Cancel(gameID uuid.UUID) {
	g, ok := e.Get(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return
	}
	g.ended = true
	g.endTime = time.Now()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	e.removeGame(gameID)
	e.logger.WithField("game", gameID).Info("game cancelled")
}

func (e *Engine) removeGame(gameID uuid.UUID) {
	e.mu.Lock()
	delete(e.games, gameID)
	e.mu.Unlock()
}

// archive persists the finished game asynchronously.
func (e *Engine) archive(g *Game, taps []models.TapRecord) {
	if e.archiver == nil {
		return
	}
	snap := g.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.archiver.SaveGame(ctx, snap); err != nil {
			e.logger.WithError(err).WithField("game", snap.ID).Error("failed to archive game")
		}
		if err := e.archiver.SaveTaps(ctx, taps); err != nil {
			e.logger.WithError(err).WithField("game", snap.ID).Error("failed to archive taps")
		}
	}()
}

func (e *Engine) broadcast(roomID uuid.UUID, env models.Envelope) {
	if e.broadcaster != nil {
		e.broadcaster.BroadcastRoom(roomID, env)
	}
}

// computeWinner replays the tap log in append order. The final totals give
// the maximum; the winner is the user whose running total reaches that
// maximum first, which resolves ties deterministically for the same input
// order.
func computeWinner(taps []models.TapRecord) uuid.UUID {
	if len(taps) == 0 {
		return uuid.Nil
	}
	finals := make(map[uuid.UUID]int)
	for _, t := range taps {
		finals[t.UserID] += t.Count
	}
	max := 0
	for _, total := range finals {
		if total > max {
			max = total
		}
	}
	if max == 0 {
		return uuid.Nil
	}
	running := make(map[uuid.UUID]int)
	for _, t := range taps {
		running[t.UserID] += t.Count
		if running[t.UserID] >= max {
			return t.UserID
		}
	}
	return uuid.Nil
}

func stringKeyedTotals(totals map[uuid.UUID]int) map[string]int {
	out := make(map[string]int, len(totals))
	for k, v := range totals {
		out[k.String()] = v
	}
	return out
}
