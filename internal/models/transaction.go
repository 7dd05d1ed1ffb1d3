package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind labels the direction and purpose of a balance mutation.
// Callers always pass non-negative amounts; the kind carries the intent.
type TransactionKind string

const (
	TxEntry    TransactionKind = "entry"
	TxPayout   TransactionKind = "payout"
	TxFee      TransactionKind = "fee"
	TxReferral TransactionKind = "referral"
	TxPayment  TransactionKind = "payment"
	TxRefund   TransactionKind = "refund"
	TxBonus    TransactionKind = "bonus"
)

// Transaction is one row of the append-only audit trail. Amount is signed:
// negative for debits, positive for credits, so that a user's balance always
// equals their initial balance plus the sum of their transaction amounts.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Kind      TransactionKind `json:"kind"`
	Memo      string          `json:"memo,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
