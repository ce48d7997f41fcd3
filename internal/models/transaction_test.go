package models

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validTransaction() *Transaction {
	return &Transaction{
		TransactionID:       NewTransactionID("u1"),
		UserID:              "u1",
		BaseCurrency:        "usd",
		BaseAmount:          decimal.NewFromInt(600),
		DestinationCurrency: "ethereum",
		DestinationAmount:   decimal.NewFromInt(2),
		Rate:                decimal.NewFromInt(300),
		Type:                TypeBuy,
		Status:              StatusCompleted,
	}
}

func TestNewTransactionID(t *testing.T) {
	id := NewTransactionID("12345")
	assert.True(t, strings.HasPrefix(id, "TXN-"))
	assert.True(t, strings.HasSuffix(id, "-12345"))
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(txn *Transaction)
		wantErr string
	}{
		{"valid", func(txn *Transaction) {}, ""},
		{"missing transaction ID", func(txn *Transaction) { txn.TransactionID = "" }, "transaction ID is required"},
		{"missing user ID", func(txn *Transaction) { txn.UserID = "" }, "user ID is required"},
		{"unknown type", func(txn *Transaction) { txn.Type = "transfer" }, "invalid transaction type"},
		{"unknown status", func(txn *Transaction) { txn.Status = "done" }, "invalid transaction status"},
		{"missing base currency", func(txn *Transaction) { txn.BaseCurrency = "" }, "currencies are required"},
		{"negative amount", func(txn *Transaction) { txn.BaseAmount = decimal.NewFromInt(-1) }, "cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := validTransaction()
			tt.mutate(txn)
			err := txn.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestTransactionDescription(t *testing.T) {
	buy := validTransaction()
	assert.Equal(t, "Bought 2 ethereum at 300 USD", buy.Description())

	sell := validTransaction()
	sell.Type = TypeSell
	sell.BaseCurrency = "ethereum"
	sell.BaseAmount = decimal.NewFromInt(2)
	assert.Equal(t, "Sold 2 ethereum at 300 USD", sell.Description())

	swap := validTransaction()
	swap.Type = TypeSwap
	swap.BaseCurrency = "bitcoin"
	swap.BaseAmount = decimal.NewFromInt(1)
	swap.DestinationAmount = decimal.NewFromInt(20)
	assert.Equal(t, "Swapped 1 bitcoin for 20 ethereum", swap.Description())

	deposit := validTransaction()
	deposit.Type = TypeDeposit
	deposit.BaseCurrency = "usd"
	deposit.BaseAmount = decimal.NewFromInt(500)
	assert.Equal(t, "Deposited 500 USD", deposit.Description())

	withDetails := validTransaction()
	withDetails.Details = "Deposited 500 USD"
	assert.Equal(t, "Deposited 500 USD", withDetails.Description())
}
