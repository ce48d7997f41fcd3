package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CurrencyUSD is the reference currency every price is quoted against.
const CurrencyUSD = "usd"

// BalanceMap maps a canonical lowercase currency ID ("usd", "bitcoin") to an
// amount. A missing key is equivalent to a balance of zero.
type BalanceMap map[string]decimal.Decimal

// Get returns the balance for a currency, zero if absent.
func (b BalanceMap) Get(currencyID string) decimal.Decimal {
	if amount, ok := b[currencyID]; ok {
		return amount
	}
	return decimal.Zero
}

// Clone returns an independent copy of the balance map.
func (b BalanceMap) Clone() BalanceMap {
	out := make(BalanceMap, len(b))
	for currency, amount := range b {
		out[currency] = amount
	}
	return out
}

// Validate checks that no balance is negative.
func (b BalanceMap) Validate() error {
	for currency, amount := range b {
		if amount.IsNegative() {
			return fmt.Errorf("negative %s balance: %s", currency, amount.String())
		}
	}
	return nil
}

// Wallet is a user's multi-currency balance container. Exactly one wallet
// exists per user; it is created lazily on first access.
type Wallet struct {
	ID        primitive.ObjectID `json:"id,omitempty"`
	UserID    string             `json:"user_id"`
	Balances  BalanceMap         `json:"balances"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewWallet creates an empty wallet for a user.
func NewWallet(userID string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		UserID:    userID,
		Balances:  make(BalanceMap),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Balance returns the wallet balance for a currency, zero if absent.
func (w *Wallet) Balance(currencyID string) decimal.Decimal {
	return w.Balances.Get(currencyID)
}

// HasSufficientBalance checks whether the wallet holds at least amount of
// the given currency.
func (w *Wallet) HasSufficientBalance(currencyID string, amount decimal.Decimal) bool {
	return w.Balances.Get(currencyID).GreaterThanOrEqual(amount)
}

// Validate validates the wallet data.
func (w *Wallet) Validate() error {
	if w.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	return w.Balances.Validate()
}
