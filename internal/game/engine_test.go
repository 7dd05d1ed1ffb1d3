package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taprush/taprush/internal/anticheat"
	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
	"github.com/taprush/taprush/internal/room"
)

type mockBroadcaster struct {
	mu     sync.Mutex
	events []models.Envelope
}

func (b *mockBroadcaster) BroadcastRoom(roomID uuid.UUID, env models.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, env)
}

func (b *mockBroadcaster) types() []models.MessageType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.MessageType
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type stubReconciler struct {
	mu      sync.Mutex
	queued  int
	lastAmt decimal.Decimal
}

func (r *stubReconciler) EnqueueFailedPayout(ctx context.Context, gameID, winnerID uuid.UUID, amount decimal.Decimal, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued++
	r.lastAmt = amount
	return nil
}

type stubBonusSettler struct {
	mu        sync.Mutex
	calls     int
	lastTaps  int64
	completed bool
}

func (s *stubBonusSettler) Settle(ctx context.Context, userID uuid.UUID, taps int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastTaps = taps
	return s.completed, nil
}

func newTestEngine(t *testing.T, balances map[uuid.UUID]int64) (*Engine, *ledger.Ledger, *mockBroadcaster) {
	t.Helper()
	store := ledger.NewMemoryStore()
	for uid, bal := range balances {
		store.SetBalance(uid, decimal.NewFromInt(bal))
	}
	l := ledger.New(store, nil)
	b := &mockBroadcaster{}
	// Generous limits so the monitor stays out of the way unless a test wants it.
	mon := anticheat.NewMonitor(1000, 3, 100000, nil)
	return NewEngine(l, mon, b, nil), l, b
}

func startGame(e *Engine, players []uuid.UUID, prize int64, duration time.Duration) uuid.UUID {
	return e.Start(room.StartRequest{
		RoomID:    uuid.New(),
		RoomType:  models.RoomStandard,
		Duration:  duration,
		Players:   players,
		PrizePool: decimal.NewFromInt(prize),
	})
}

func TestWinnerGetsWholePrizePool(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	e, l, b := newTestEngine(t, map[uuid.UUID]int64{alice: 0, bob: 0})

	var finishedRoom uuid.UUID
	e.SetOnEnd(func(roomID, gameID uuid.UUID) { finishedRoom = roomID })

	gid := startGame(e, []uuid.UUID{alice, bob}, 40, time.Hour)
	ctx := context.Background()
	now := time.Now()

	_, err := e.RecordTap(ctx, gid, alice, 10, now)
	require.NoError(t, err)
	_, err = e.RecordTap(ctx, gid, bob, 7, now)
	require.NoError(t, err)
	total, err := e.RecordTap(ctx, gid, alice, 5, now)
	require.NoError(t, err)
	assert.Equal(t, 15, total)

	require.NoError(t, e.End(ctx, gid))

	bal, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(40)), "winner takes the whole pool, got %s", bal)
	bal, err = l.Balance(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "the loser gets nothing")

	assert.NotEqual(t, uuid.Nil, finishedRoom, "the room-finish callback must fire")
	assert.Contains(t, b.types(), models.MsgGameEnd)

	_, alive := e.Get(gid)
	assert.False(t, alive, "a settled game is dropped from the registry")
}

func TestTieBrokenByFirstToReachMax(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	e, l, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0, bob: 0})
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})

	gid := startGame(e, []uuid.UUID{alice, bob}, 20, time.Hour)
	ctx := context.Background()
	now := time.Now()

	// Both finish on 50, but alice's running total hits 50 first.
	_, err := e.RecordTap(ctx, gid, alice, 30, now)
	require.NoError(t, err)
	_, err = e.RecordTap(ctx, gid, bob, 40, now)
	require.NoError(t, err)
	_, err = e.RecordTap(ctx, gid, alice, 20, now)
	require.NoError(t, err)
	_, err = e.RecordTap(ctx, gid, bob, 10, now)
	require.NoError(t, err)

	require.NoError(t, e.End(ctx, gid))

	aliceBal, _ := l.Balance(ctx, alice)
	bobBal, _ := l.Balance(ctx, bob)
	assert.True(t, aliceBal.Equal(decimal.NewFromInt(20)), "alice reached the max first")
	assert.True(t, bobBal.IsZero())
}

func TestDoubleEndSettlesOnce(t *testing.T) {
	alice := uuid.New()
	e, l, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0})
	ends := 0
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) { ends++ })

	gid := startGame(e, []uuid.UUID{alice}, 10, time.Hour)
	ctx := context.Background()
	_, err := e.RecordTap(ctx, gid, alice, 5, time.Now())
	require.NoError(t, err)

	require.NoError(t, e.End(ctx, gid))
	// Second call finds the game already dropped; also exercise the in-map
	// idempotence by ending a still-registered game twice.
	require.ErrorIs(t, e.End(ctx, gid), ErrGameNotFound)

	bal, _ := l.Balance(ctx, alice)
	assert.True(t, bal.Equal(decimal.NewFromInt(10)), "prize must be paid exactly once")
	assert.Equal(t, 1, ends)

	txs, err := l.Transactions(ctx, alice)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TxPayout, txs[0].Kind)
}

func TestDurationTimerEndsGame(t *testing.T) {
	alice := uuid.New()
	e, l, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0})
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})

	gid := startGame(e, []uuid.UUID{alice}, 10, 30*time.Millisecond)
	_, err := e.RecordTap(context.Background(), gid, alice, 3, time.Now())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, alive := e.Get(gid)
		return !alive
	}, time.Second, 10*time.Millisecond, "the duration timer must settle the game")

	bal, _ := l.Balance(context.Background(), alice)
	assert.True(t, bal.Equal(decimal.NewFromInt(10)))
}

func TestTapAfterEndRejected(t *testing.T) {
	alice := uuid.New()
	e, _, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0})
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})

	gid := startGame(e, []uuid.UUID{alice}, 10, time.Hour)
	require.NoError(t, e.End(context.Background(), gid))

	_, err := e.RecordTap(context.Background(), gid, alice, 1, time.Now())
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestObserversCannotTap(t *testing.T) {
	player, observer := uuid.New(), uuid.New()
	e, _, _ := newTestEngine(t, map[uuid.UUID]int64{player: 0, observer: 0})

	gid := e.Start(room.StartRequest{
		RoomID:    uuid.New(),
		RoomType:  models.RoomStandard,
		Duration:  time.Hour,
		Players:   []uuid.UUID{player},
		Observers: []uuid.UUID{observer},
		PrizePool: decimal.NewFromInt(10),
	})

	_, err := e.RecordTap(context.Background(), gid, observer, 5, time.Now())
	assert.ErrorIs(t, err, ErrNotPlayer)
}

func TestFlaggedTapsDoNotCount(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	e, l, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0, bob: 0})
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})
	e.monitor = anticheat.NewMonitor(10, 3, 30, nil)

	gid := startGame(e, []uuid.UUID{alice, bob}, 20, time.Hour)
	ctx := context.Background()
	now := time.Now()

	_, err := e.RecordTap(ctx, gid, alice, 8, now)
	require.NoError(t, err)
	// An oversized batch is rejected and flags bob for the rest of the game.
	_, err = e.RecordTap(ctx, gid, bob, 500, now)
	require.ErrorIs(t, err, anticheat.ErrTapTooLarge)
	_, err = e.RecordTap(ctx, gid, bob, 2, now)
	require.ErrorIs(t, err, anticheat.ErrFlagged)

	require.NoError(t, e.End(ctx, gid))
	aliceBal, _ := l.Balance(ctx, alice)
	assert.True(t, aliceBal.Equal(decimal.NewFromInt(20)), "rejected taps never reach the totals")
}

func TestNoTapsMeansNoWinner(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	e, l, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0, bob: 0})
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})

	gid := startGame(e, []uuid.UUID{alice, bob}, 20, time.Hour)
	require.NoError(t, e.End(context.Background(), gid))

	for _, uid := range []uuid.UUID{alice, bob} {
		bal, _ := l.Balance(context.Background(), uid)
		assert.True(t, bal.IsZero(), "no taps, no payout")
	}
}

func TestCancelSkipsSettlement(t *testing.T) {
	alice := uuid.New()
	e, l, b := newTestEngine(t, map[uuid.UUID]int64{alice: 0})
	ended := false
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) { ended = true })

	gid := startGame(e, []uuid.UUID{alice}, 10, time.Hour)
	_, err := e.RecordTap(context.Background(), gid, alice, 5, time.Now())
	require.NoError(t, err)

	e.Cancel(gid)

	bal, _ := l.Balance(context.Background(), alice)
	assert.True(t, bal.IsZero(), "a cancelled game pays nobody")
	assert.False(t, ended, "cancel must not fire the room-finish callback")
	assert.NotContains(t, b.types(), models.MsgGameEnd)
	_, alive := e.Get(gid)
	assert.False(t, alive)
}

func TestSettlementFailureQueuesReconciliation(t *testing.T) {
	// The winner is missing from the ledger store, so the prize credit fails.
	ghost := uuid.New()
	e, _, b := newTestEngine(t, map[uuid.UUID]int64{})
	ended := false
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) { ended = true })
	rec := &stubReconciler{}
	e.SetReconciler(rec)

	gid := startGame(e, []uuid.UUID{ghost}, 25, time.Hour)
	_, err := e.RecordTap(context.Background(), gid, ghost, 5, time.Now())
	require.NoError(t, err)

	require.NoError(t, e.End(context.Background(), gid))

	rec.mu.Lock()
	assert.Equal(t, 1, rec.queued, "the failed payout must be queued")
	assert.True(t, rec.lastAmt.Equal(decimal.NewFromInt(25)))
	rec.mu.Unlock()

	assert.True(t, ended, "the game finalizes even when the payout fails")
	assert.Contains(t, b.types(), models.MsgGameEnd)
}

func TestBonusGameSettlesThroughBonusService(t *testing.T) {
	alice := uuid.New()
	e, l, _ := newTestEngine(t, map[uuid.UUID]int64{alice: 0})
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})
	settler := &stubBonusSettler{completed: true}
	e.SetBonusSettler(settler)

	gid := e.Start(room.StartRequest{
		RoomID:    uuid.New(),
		RoomType:  models.RoomBonus,
		Duration:  time.Hour,
		Players:   []uuid.UUID{alice},
		PrizePool: decimal.Zero,
	})
	ctx := context.Background()
	_, err := e.RecordTap(ctx, gid, alice, 900, time.Now())
	require.NoError(t, err)

	require.NoError(t, e.End(ctx, gid))

	settler.mu.Lock()
	assert.Equal(t, 1, settler.calls)
	assert.Equal(t, int64(900), settler.lastTaps)
	settler.mu.Unlock()

	bal, _ := l.Balance(ctx, alice)
	assert.True(t, bal.IsZero(), "bonus rewards flow through the settler, not the prize pool")
}

func TestConcurrentTapsAllCount(t *testing.T) {
	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	balances := map[uuid.UUID]int64{}
	for _, p := range players {
		balances[p] = 0
	}
	e, _, _ := newTestEngine(t, balances)
	e.SetOnEnd(func(uuid.UUID, uuid.UUID) {})

	gid := startGame(e, players, 40, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(uid uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := e.RecordTap(ctx, gid, uid, 2, time.Now()); err != nil &&
					!errors.Is(err, anticheat.ErrRateExceeded) {
					t.Errorf("unexpected tap error: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	g, ok := e.Get(gid)
	require.True(t, ok)
	for _, p := range players {
		assert.Equal(t, 50, g.Totals()[p], "every accepted tap must be counted")
	}
}
