package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taprush/taprush/internal/models"
)

// ErrUserNotFound is returned when a balance is requested for an unknown user.
var ErrUserNotFound = errors.New("user not found")

// Store is the persistence contract for the ledger. ApplyTransaction must
// write the new balance and the transaction record in the same durable
// operation: both happen or neither.
type Store interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ApplyTransaction(ctx context.Context, tx models.Transaction, newBalance decimal.Decimal) error
	TransactionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
}

// MemoryStore is an in-process Store used in tests and single-node dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	txs      map[uuid.UUID][]models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[uuid.UUID]decimal.Decimal),
		txs:      make(map[uuid.UUID][]models.Transaction),
	}
}

// SetBalance seeds a user's starting balance.
func (s *MemoryStore) SetBalance(userID uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *MemoryStore) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return bal, nil
}

func (s *MemoryStore) ApplyTransaction(ctx context.Context, tx models.Transaction, newBalance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[tx.UserID]; !ok {
		return ErrUserNotFound
	}
	s.balances[tx.UserID] = newBalance
	s.txs[tx.UserID] = append(s.txs[tx.UserID], tx)
	return nil
}

func (s *MemoryStore) TransactionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, len(s.txs[userID]))
	copy(out, s.txs[userID])
	return out, nil
}
