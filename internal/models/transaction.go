package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transaction types.
const (
	TypeBuy     = "buy"
	TypeSell    = "sell"
	TypeSwap    = "swap"
	TypeDeposit = "deposit"
)

// Transaction statuses. The ledger engine only ever persists completed
// records; failed operations leave no trace in the ledger.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Transaction is an immutable, append-only ledger record of a completed
// balance-changing operation. Base is what left the wallet (or was credited,
// for deposits), destination is what was received.
type Transaction struct {
	ID            primitive.ObjectID `json:"id,omitempty"`
	TransactionID string             `json:"transaction_id"`
	UserID        string             `json:"user_id"`
	WalletID      primitive.ObjectID `json:"wallet_id"`

	BaseCurrency        string          `json:"base_currency"`
	BaseAmount          decimal.Decimal `json:"base_amount"`
	DestinationCurrency string          `json:"destination_currency"`
	DestinationAmount   decimal.Decimal `json:"destination_amount"`

	// Rate is destination units per base unit at execution time.
	Rate decimal.Decimal `json:"rate"`

	// USD price of each swap leg at execution time. Only set for swaps;
	// kept for audit and valuation.
	SwapOriginUSDRate      *decimal.Decimal `json:"swap_origin_usd_rate,omitempty"`
	SwapDestinationUSDRate *decimal.Decimal `json:"swap_destination_usd_rate,omitempty"`

	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTransactionID generates a ledger record identifier.
func NewTransactionID(userID string) string {
	return fmt.Sprintf("TXN-%d-%s", time.Now().UnixNano(), userID)
}

// Validate validates the transaction data.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	switch t.Type {
	case TypeBuy, TypeSell, TypeSwap, TypeDeposit:
	default:
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	switch t.Status {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}
	if t.BaseCurrency == "" || t.DestinationCurrency == "" {
		return fmt.Errorf("base and destination currencies are required")
	}
	if t.BaseAmount.IsNegative() || t.DestinationAmount.IsNegative() {
		return fmt.Errorf("transaction amounts cannot be negative")
	}
	return nil
}

// Description returns a human-readable summary of the transaction.
func (t *Transaction) Description() string {
	if t.Details != "" {
		return t.Details
	}
	switch t.Type {
	case TypeBuy:
		return fmt.Sprintf("Bought %s %s at %s USD", t.DestinationAmount.String(), t.DestinationCurrency, t.Rate.String())
	case TypeSell:
		return fmt.Sprintf("Sold %s %s at %s USD", t.BaseAmount.String(), t.BaseCurrency, t.Rate.String())
	case TypeSwap:
		return fmt.Sprintf("Swapped %s %s for %s %s", t.BaseAmount.String(), t.BaseCurrency, t.DestinationAmount.String(), t.DestinationCurrency)
	case TypeDeposit:
		return fmt.Sprintf("Deposited %s USD", t.BaseAmount.String())
	default:
		return fmt.Sprintf("%s %s %s", t.Type, t.BaseAmount.String(), t.BaseCurrency)
	}
}

// TransactionFilter narrows a ledger listing. Zero values mean "no filter";
// Currency matches either the base or the destination position.
type TransactionFilter struct {
	Type     string
	Currency string
	Limit    int
	Offset   int
}
