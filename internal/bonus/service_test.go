package bonus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
)

func newTestService(t *testing.T, users ...uuid.UUID) (*Service, *ledger.Ledger) {
	t.Helper()
	store := ledger.NewMemoryStore()
	for _, u := range users {
		store.SetBalance(u, decimal.Zero)
	}
	l := ledger.New(store, nil)
	return NewService(l, 100, decimal.NewFromInt(5), 24*time.Hour, nil), l
}

func TestGoalCrossingPaysExactlyOnce(t *testing.T) {
	alice := uuid.New()
	s, l := newTestService(t, alice)
	ctx := context.Background()

	_, err := s.Start(ctx, alice)
	require.NoError(t, err)

	p, err := s.Tap(ctx, alice, 60)
	require.NoError(t, err)
	assert.False(t, p.Completed)

	p, err = s.Tap(ctx, alice, 50)
	require.NoError(t, err)
	assert.True(t, p.Completed, "110 taps crosses the 100 goal")

	// Further taps accumulate but never pay again.
	_, err = s.Tap(ctx, alice, 200)
	require.NoError(t, err)

	bal, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)), "the reward must be paid exactly once, got %s", bal)

	txs, err := l.Transactions(ctx, alice)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TxBonus, txs[0].Kind)
}

func TestStartWhileRunningRejected(t *testing.T) {
	alice := uuid.New()
	s, _ := newTestService(t, alice)
	ctx := context.Background()

	_, err := s.Start(ctx, alice)
	require.NoError(t, err)
	_, err = s.Start(ctx, alice)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCompletedChallengeCanRestart(t *testing.T) {
	alice := uuid.New()
	s, l := newTestService(t, alice)
	ctx := context.Background()

	_, err := s.Start(ctx, alice)
	require.NoError(t, err)
	_, err = s.Tap(ctx, alice, 150)
	require.NoError(t, err)

	p, err := s.Start(ctx, alice)
	require.NoError(t, err, "a finished window must be replaceable")
	assert.Zero(t, p.Taps)
	assert.False(t, p.Completed)

	// The fresh window pays again on its own goal.
	_, err = s.Tap(ctx, alice, 100)
	require.NoError(t, err)
	bal, _ := l.Balance(ctx, alice)
	assert.True(t, bal.Equal(decimal.NewFromInt(10)))
}

func TestPausedChallengeRejectsTaps(t *testing.T) {
	alice := uuid.New()
	s, _ := newTestService(t, alice)
	ctx := context.Background()

	_, err := s.Start(ctx, alice)
	require.NoError(t, err)
	_, err = s.Pause(alice, true)
	require.NoError(t, err)

	_, err = s.Tap(ctx, alice, 10)
	assert.ErrorIs(t, err, ErrChallengePaused)

	_, err = s.Pause(alice, false)
	require.NoError(t, err)
	p, err := s.Tap(ctx, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Taps)
}

func TestExpiredWindowRejectsTaps(t *testing.T) {
	alice := uuid.New()
	s, _ := newTestService(t, alice)
	ctx := context.Background()

	start := time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	_, err := s.Start(ctx, alice)
	require.NoError(t, err)

	s.now = func() time.Time { return start.Add(25 * time.Hour) }
	_, err = s.Tap(ctx, alice, 10)
	assert.ErrorIs(t, err, ErrExpired)

	// An expired window does not block a fresh start.
	_, err = s.Start(ctx, alice)
	assert.NoError(t, err)
}

func TestTapWithoutStartRejected(t *testing.T) {
	alice := uuid.New()
	s, _ := newTestService(t, alice)

	_, err := s.Tap(context.Background(), alice, 10)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = s.Pause(alice, true)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSettleCreatesWindowAndPaysOnGoal(t *testing.T) {
	alice := uuid.New()
	s, l := newTestService(t, alice)
	ctx := context.Background()

	completed, err := s.Settle(ctx, alice, 40)
	require.NoError(t, err)
	assert.False(t, completed)

	completed, err = s.Settle(ctx, alice, 70)
	require.NoError(t, err)
	assert.True(t, completed, "cumulative 110 crosses the goal")

	completed, err = s.Settle(ctx, alice, 500)
	require.NoError(t, err)
	assert.False(t, completed, "a settled window never completes twice")

	bal, _ := l.Balance(ctx, alice)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)))
}
