package anticheat

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnderThresholdAccepted(t *testing.T) {
	m := NewMonitor(10, 3, 30, nil)
	game, user := uuid.New(), uuid.New()
	now := time.Now()

	total := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Check(game, user, 5, now))
		total += 5
	}
	assert.Equal(t, 25, total)
	assert.False(t, m.Flagged(game, user))
	assert.Empty(t, m.Records())
}

func TestBurstOverThresholdRejected(t *testing.T) {
	m := NewMonitor(10, 3, 30, nil)
	game, user := uuid.New(), uuid.New()
	now := time.Now()

	var rejected bool
	for i := 0; i < 10; i++ {
		if err := m.Check(game, user, 5, now); err != nil {
			rejected = true
			assert.ErrorIs(t, err, ErrRateExceeded)
			break
		}
	}
	require.True(t, rejected, "a burst over the window limit must be rejected")
	assert.True(t, m.Flagged(game, user))
	require.Len(t, m.Records(), 1)
	assert.Equal(t, user, m.Records()[0].UserID)
}

func TestFlagIsSticky(t *testing.T) {
	m := NewMonitor(10, 3, 30, nil)
	game, user := uuid.New(), uuid.New()
	now := time.Now()

	// Single oversized batch flags immediately.
	require.ErrorIs(t, m.Check(game, user, 11, now), ErrTapTooLarge)

	// All subsequent taps, even tiny ones long after, stay rejected.
	assert.ErrorIs(t, m.Check(game, user, 1, now.Add(time.Minute)), ErrFlagged)

	// Until manually cleared.
	m.Clear(game, user)
	assert.NoError(t, m.Check(game, user, 1, now.Add(time.Minute)))
}

func TestFlagScopedToGame(t *testing.T) {
	m := NewMonitor(10, 3, 30, nil)
	user := uuid.New()
	gameA, gameB := uuid.New(), uuid.New()
	now := time.Now()

	require.ErrorIs(t, m.Check(gameA, user, 11, now), ErrTapTooLarge)
	assert.NoError(t, m.Check(gameB, user, 5, now), "flag in one game must not leak into another")
}

func TestWindowSlides(t *testing.T) {
	m := NewMonitor(50, 3, 30, nil)
	game, user := uuid.New(), uuid.New()
	base := time.Unix(1_700_000_000, 0)

	// 30 taps in second 0 fills the window exactly.
	require.NoError(t, m.Check(game, user, 30, base))
	// One more inside the window trips it...
	assert.Error(t, m.Check(game, user, 1, base.Add(time.Second)))

	// ...but the same burst is fine once the old second falls out.
	user2 := uuid.New()
	require.NoError(t, m.Check(game, user2, 30, base))
	assert.NoError(t, m.Check(game, user2, 30, base.Add(4*time.Second)))
}
