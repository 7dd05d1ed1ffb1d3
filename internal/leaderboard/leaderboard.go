// internal/leaderboard/leaderboard.go

// Package leaderboard keeps rolling tap totals in Redis sorted sets. Counts
// are advisory: the ledger and game settlement never read from here.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Period selects which rolling window a query reads.
type Period string

const (
	PeriodToday   Period = "today"
	PeriodWeek    Period = "week"
	PeriodAllTime Period = "alltime"
)

// ErrBadPeriod rejects unknown period names from the HTTP layer.
var ErrBadPeriod = fmt.Errorf("unknown leaderboard period")

const (
	allTimeKey = "lb:alltime"

	// Expiries are generous so a window is still readable right after it
	// closes; stale keys fall out on their own.
	dayTTL  = 48 * time.Hour
	weekTTL = 15 * 24 * time.Hour
)

// Entry is one leaderboard row.
type Entry struct {
	UserID uuid.UUID `json:"user_id"`
	Taps   int64     `json:"taps"`
}

// Board wraps the Redis sorted sets. The clock is injectable for tests.
type Board struct {
	rdb *redis.Client
	now func() time.Time
}

func New(rdb *redis.Client) *Board {
	return &Board{rdb: rdb, now: time.Now}
}

func dayKey(t time.Time) string {
	return "lb:day:" + t.UTC().Format("2006-01-02")
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("lb:week:%d-%02d", year, week)
}

// RecordTaps adds accepted taps to all three windows in one round trip.
func (b *Board) RecordTaps(ctx context.Context, userID uuid.UUID, count int) error {
	now := b.now()
	member := userID.String()
	day := dayKey(now)
	week := weekKey(now)

	pipe := b.rdb.Pipeline()
	pipe.ZIncrBy(ctx, allTimeKey, float64(count), member)
	pipe.ZIncrBy(ctx, day, float64(count), member)
	pipe.ZIncrBy(ctx, week, float64(count), member)
	pipe.Expire(ctx, day, dayTTL)
	pipe.Expire(ctx, week, weekTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard update for %s: %w", member, err)
	}
	return nil
}

func (b *Board) keyFor(p Period) (string, error) {
	switch p {
	case PeriodToday:
		return dayKey(b.now()), nil
	case PeriodWeek:
		return weekKey(b.now()), nil
	case PeriodAllTime:
		return allTimeKey, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadPeriod, p)
	}
}

// Top returns the highest tappers for a window, best first.
func (b *Board) Top(ctx context.Context, p Period, n int64) ([]Entry, error) {
	key, err := b.keyFor(p)
	if err != nil {
		return nil, err
	}
	rows, err := b.rdb.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard read %s: %w", key, err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		member, ok := row.Member.(string)
		if !ok {
			continue
		}
		uid, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		out = append(out, Entry{UserID: uid, Taps: int64(row.Score)})
	}
	return out, nil
}

// Score reads one user's total for a window. A user with no taps scores zero.
func (b *Board) Score(ctx context.Context, p Period, userID uuid.UUID) (int64, error) {
	key, err := b.keyFor(p)
	if err != nil {
		return 0, err
	}
	score, err := b.rdb.ZScore(ctx, key, userID.String()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("leaderboard score %s: %w", key, err)
	}
	return int64(score), nil
}
