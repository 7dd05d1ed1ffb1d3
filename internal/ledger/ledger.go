// Package ledger owns every balance mutation in the system. Each mutation is
// paired with exactly one transaction record, and operations on the same user
// serialize on a per-user lock so concurrent debits cannot lose updates.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taprush/taprush/internal/models"
)

// ErrInsufficientBalance is returned when a debit would take a balance below
// zero. The debit fails closed: no balance change, no transaction record.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrNegativeAmount rejects callers passing a negative amount; direction is
// encoded by the transaction kind, never by sign.
var ErrNegativeAmount = errors.New("amount must be non-negative")

type Ledger struct {
	store  Store
	locks  *keyLock
	logger *logrus.Logger
}

func New(store Store, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{
		store:  store,
		locks:  newKeyLock(),
		logger: logger,
	}
}

// Debit removes amount from the user's balance, recording a transaction with
// a negative signed amount. Fails with ErrInsufficientBalance if the balance
// cannot cover it.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind models.TransactionKind, memo string) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return l.locks.withLock(userID, func() error {
		bal, err := l.store.Balance(ctx, userID)
		if err != nil {
			return err
		}
		if bal.LessThan(amount) {
			return ErrInsufficientBalance
		}
		tx := models.Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			Amount:    amount.Neg(),
			Kind:      kind,
			Memo:      memo,
			CreatedAt: time.Now(),
		}
		if err := l.store.ApplyTransaction(ctx, tx, bal.Sub(amount)); err != nil {
			return err
		}
		l.logger.WithFields(logrus.Fields{
			"user": userID, "amount": amount, "kind": kind,
		}).Debug("ledger debit")
		return nil
	})
}

// Credit adds amount to the user's balance, recording a transaction with a
// positive signed amount.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind models.TransactionKind, memo string) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return l.locks.withLock(userID, func() error {
		bal, err := l.store.Balance(ctx, userID)
		if err != nil {
			return err
		}
		tx := models.Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			Amount:    amount,
			Kind:      kind,
			Memo:      memo,
			CreatedAt: time.Now(),
		}
		if err := l.store.ApplyTransaction(ctx, tx, bal.Add(amount)); err != nil {
			return err
		}
		l.logger.WithFields(logrus.Fields{
			"user": userID, "amount": amount, "kind": kind,
		}).Debug("ledger credit")
		return nil
	})
}

// Balance reads the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return l.store.Balance(ctx, userID)
}

// Transactions returns the user's audit trail in append order.
func (l *Ledger) Transactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	return l.store.TransactionsByUser(ctx, userID)
}
