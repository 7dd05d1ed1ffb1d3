// internal/bonus/service.go

// Package bonus runs the long solo tap challenge: a fixed goal inside a fixed
// window for a fixed reward. The reward pays out at most once per window,
// guarded by the Completed flag.
package bonus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
)

var (
	ErrAlreadyRunning  = errors.New("a bonus challenge is already running")
	ErrNotRunning      = errors.New("no bonus challenge is running")
	ErrExpired         = errors.New("the bonus challenge window has expired")
	ErrChallengePaused = errors.New("the bonus challenge is paused")
)

// Service tracks one challenge per user.
type Service struct {
	mu       sync.Mutex
	progress map[uuid.UUID]*models.BonusProgress

	ledger *ledger.Ledger
	goal   int64
	reward decimal.Decimal
	window time.Duration

	now    func() time.Time
	logger *logrus.Logger
}

func NewService(l *ledger.Ledger, goal int64, reward decimal.Decimal, window time.Duration, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		progress: make(map[uuid.UUID]*models.BonusProgress),
		ledger:   l,
		goal:     goal,
		reward:   reward,
		window:   window,
		now:      time.Now,
		logger:   logger,
	}
}

// Start opens a new challenge window for the user. A live, unfinished window
// blocks a restart; an expired or completed one is simply replaced.
func (s *Service) Start(ctx context.Context, userID uuid.UUID) (models.BonusProgress, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.progress[userID]; ok && !p.Completed && now.Before(p.ExpiresAt) {
		return *p, ErrAlreadyRunning
	}
	p := &models.BonusProgress{
		UserID:    userID,
		Goal:      s.goal,
		StartedAt: now,
		ExpiresAt: now.Add(s.window),
	}
	s.progress[userID] = p
	s.logger.WithFields(logrus.Fields{"user": userID, "goal": s.goal}).Info("bonus challenge started")
	return *p, nil
}

// Pause toggles the challenge. Paused challenges reject taps but the window
// clock keeps running.
func (s *Service) Pause(userID uuid.UUID, paused bool) (models.BonusProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[userID]
	if !ok {
		return models.BonusProgress{}, ErrNotRunning
	}
	if s.now().After(p.ExpiresAt) {
		return *p, ErrExpired
	}
	p.Paused = paused
	return *p, nil
}

// Tap adds taps to a running challenge and settles the reward the moment the
// goal is crossed.
func (s *Service) Tap(ctx context.Context, userID uuid.UUID, count int64) (models.BonusProgress, error) {
	s.mu.Lock()
	p, ok := s.progress[userID]
	if !ok {
		s.mu.Unlock()
		return models.BonusProgress{}, ErrNotRunning
	}
	if s.now().After(p.ExpiresAt) {
		out := *p
		s.mu.Unlock()
		return out, ErrExpired
	}
	if p.Paused {
		out := *p
		s.mu.Unlock()
		return out, ErrChallengePaused
	}
	p.Taps += count
	crossed := !p.Completed && p.Taps >= p.Goal
	if crossed {
		p.Completed = true
	}
	out := *p
	s.mu.Unlock()

	if crossed {
		if err := s.payReward(ctx, userID); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Settle is the game engine's end-of-window hook for bonus rooms: fold the
// game's final tap count into the challenge and pay if the goal was crossed.
// Returns whether this call completed the challenge.
func (s *Service) Settle(ctx context.Context, userID uuid.UUID, taps int64) (bool, error) {
	now := s.now()
	s.mu.Lock()
	p, ok := s.progress[userID]
	if !ok {
		p = &models.BonusProgress{
			UserID:    userID,
			Goal:      s.goal,
			StartedAt: now,
			ExpiresAt: now.Add(s.window),
		}
		s.progress[userID] = p
	}
	p.Taps += taps
	crossed := !p.Completed && p.Taps >= p.Goal
	if crossed {
		p.Completed = true
	}
	s.mu.Unlock()

	if !crossed {
		return false, nil
	}
	if err := s.payReward(ctx, userID); err != nil {
		return true, err
	}
	return true, nil
}

// payReward credits the fixed reward. The caller has already flipped the
// Completed flag, so a ledger failure here cannot cause a double payout; it
// surfaces as an error instead.
func (s *Service) payReward(ctx context.Context, userID uuid.UUID) error {
	err := s.ledger.Credit(ctx, userID, s.reward, models.TxBonus, "bonus challenge reward")
	if err != nil {
		s.logger.WithError(err).WithField("user", userID).Error("bonus reward credit failed")
		return err
	}
	s.logger.WithFields(logrus.Fields{"user": userID, "reward": s.reward}).Info("bonus reward paid")
	return nil
}

// Progress returns the user's current challenge, if any.
func (s *Service) Progress(userID uuid.UUID) (models.BonusProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[userID]
	if !ok {
		return models.BonusProgress{}, false
	}
	return *p, true
}
