package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the identity the rest of the system trusts once attached to a
// request or connection. Balances are mutated only through the ledger.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`

	// Balance is the primary wallet-backed currency; RewardBalance is the
	// in-game reward currency earned from bonus challenges.
	Balance       decimal.Decimal `json:"balance"`
	RewardBalance decimal.Decimal `json:"reward_balance"`

	WalletLinked bool `json:"wallet_linked"`
}
