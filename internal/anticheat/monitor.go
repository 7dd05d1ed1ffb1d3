// Package anticheat guards the tap ingestion hot path. Every tap batch passes
// through Check, which enforces a per-message ceiling and a trailing-window
// rate threshold in O(1) per call using a fixed ring of per-second buckets.
package anticheat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTapTooLarge rejects a single batch over the per-message ceiling.
	ErrTapTooLarge = errors.New("tap count exceeds per-message ceiling")
	// ErrRateExceeded rejects a user whose trailing-window tap count crossed the threshold.
	ErrRateExceeded = errors.New("tap rate exceeds threshold")
	// ErrFlagged rejects every tap from a user already flagged in this game.
	ErrFlagged = errors.New("user flagged for abuse in this game")
)

const (
	DefaultMaxPerMessage = 50
	DefaultWindowSeconds = 3
	DefaultWindowLimit   = 60

	// Entries idle longer than this are dropped during the periodic sweep.
	idleExpiry    = 5 * time.Minute
	sweepInterval = time.Minute
)

// AbuseRecord is the durable note kept for a flagged (game, user) pair.
// Once flagged, the user's taps in that game stay rejected until cleared.
type AbuseRecord struct {
	GameID    uuid.UUID `json:"game_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

type entryKey struct {
	gameID uuid.UUID
	userID uuid.UUID
}

// tracker is a ring of per-second tap buckets. bucketSec stamps each slot with
// the unix second it counts for, so stale slots reset lazily on touch.
type tracker struct {
	buckets   []int
	bucketSec []int64
	lastSeen  time.Time
}

type Monitor struct {
	mu sync.Mutex

	maxPerMessage int
	windowSeconds int
	windowLimit   int

	trackers  map[entryKey]*tracker
	flagged   map[entryKey]AbuseRecord
	lastSweep time.Time

	logger *logrus.Logger
}

func NewMonitor(maxPerMessage, windowSeconds, windowLimit int, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	if maxPerMessage <= 0 {
		maxPerMessage = DefaultMaxPerMessage
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	if windowLimit <= 0 {
		windowLimit = DefaultWindowLimit
	}
	return &Monitor{
		maxPerMessage: maxPerMessage,
		windowSeconds: windowSeconds,
		windowLimit:   windowLimit,
		trackers:      make(map[entryKey]*tracker),
		flagged:       make(map[entryKey]AbuseRecord),
		lastSweep:     time.Now(),
		logger:        logger,
	}
}

// Check validates one tap batch for (gameID, userID) at the given time.
// A rejection for ceiling or rate flags the user for the rest of the game.
func (m *Monitor) Check(gameID, userID uuid.UUID, count int, now time.Time) error {
	key := entryKey{gameID: gameID, userID: userID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, bad := m.flagged[key]; bad {
		return ErrFlagged
	}

	if count > m.maxPerMessage {
		m.flagUnsafe(key, "per-message ceiling exceeded", now)
		return ErrTapTooLarge
	}

	tr, ok := m.trackers[key]
	if !ok {
		tr = &tracker{
			buckets:   make([]int, m.windowSeconds),
			bucketSec: make([]int64, m.windowSeconds),
		}
		m.trackers[key] = tr
	}
	tr.lastSeen = now

	sec := now.Unix()
	slot := int(sec % int64(m.windowSeconds))
	if tr.bucketSec[slot] != sec {
		tr.bucketSec[slot] = sec
		tr.buckets[slot] = 0
	}

	// Sum only slots still inside the trailing window.
	total := count
	for i := 0; i < m.windowSeconds; i++ {
		if sec-tr.bucketSec[i] < int64(m.windowSeconds) {
			total += tr.buckets[i]
		}
	}
	if total > m.windowLimit {
		m.flagUnsafe(key, "trailing-window rate exceeded", now)
		return ErrRateExceeded
	}

	tr.buckets[slot] += count

	m.maybeSweepUnsafe(now)
	return nil
}

// flagUnsafe records an abuse entry. Assumes lock is held.
func (m *Monitor) flagUnsafe(key entryKey, reason string, now time.Time) {
	m.flagged[key] = AbuseRecord{
		GameID:    key.gameID,
		UserID:    key.userID,
		Reason:    reason,
		FlaggedAt: now,
	}
	delete(m.trackers, key)
	m.logger.WithFields(logrus.Fields{
		"game": key.gameID, "user": key.userID, "reason": reason,
	}).Warn("tap abuse flagged")
}

// maybeSweepUnsafe drops trackers idle past expiry. Runs at most once per
// sweepInterval so Check stays O(1) amortized. Assumes lock is held.
func (m *Monitor) maybeSweepUnsafe(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for key, tr := range m.trackers {
		if now.Sub(tr.lastSeen) > idleExpiry {
			delete(m.trackers, key)
		}
	}
}

// Flagged reports whether the user is currently flagged in the game.
func (m *Monitor) Flagged(gameID, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flagged[entryKey{gameID: gameID, userID: userID}]
	return ok
}

// Clear removes the abuse flag for (game, user). Manual operation.
func (m *Monitor) Clear(gameID, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flagged, entryKey{gameID: gameID, userID: userID})
}

// Records returns a copy of all abuse records.
func (m *Monitor) Records() []AbuseRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AbuseRecord, 0, len(m.flagged))
	for _, rec := range m.flagged {
		out = append(out, rec)
	}
	return out
}
