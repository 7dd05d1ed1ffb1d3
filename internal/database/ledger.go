package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/taprush/taprush/internal/ledger"
	"github.com/taprush/taprush/internal/models"
)

// LedgerStore is the durable ledger.Store. Each ApplyTransaction writes the
// new balance and the transaction row inside a single database transaction,
// so the audit trail can never drift from the balances.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id=$1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ledger.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}
	return bal, nil
}

func (s *LedgerStore) ApplyTransaction(ctx context.Context, txRec models.Transaction, newBalance decimal.Decimal) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET balance=$1 WHERE id=$2`, newBalance, txRec.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ledger.ErrUserNotFound
		}
		// Bonus rewards also accrue to the reward counter shown in profiles.
		if txRec.Kind == models.TxBonus {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET reward_balance = reward_balance + $1 WHERE id=$2`,
				txRec.Amount, txRec.UserID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, user_id, amount, kind, memo, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			txRec.ID, txRec.UserID, txRec.Amount, txRec.Kind, txRec.Memo, txRec.CreatedAt,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("failed to apply transaction %s: %w", txRec.ID, err)
	}
	return nil
}

func (s *LedgerStore) TransactionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, memo, created_at
		 FROM transactions
		 WHERE user_id=$1
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.Memo, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
