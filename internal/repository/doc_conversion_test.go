package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
)

func TestWalletDocConversion(t *testing.T) {
	wallet := &models.Wallet{
		ID:     primitive.NewObjectID(),
		UserID: "u1",
		Balances: models.BalanceMap{
			"usd":     mustDecimal(t, "400.25"),
			"bitcoin": mustDecimal(t, "0.000000000000000001"),
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	doc := walletToDoc(wallet)
	assert.Equal(t, "400.25", doc.Balances["usd"])
	assert.Equal(t, "0.000000000000000001", doc.Balances["bitcoin"], "sub-satoshi amounts survive as strings")

	restored, err := walletFromDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, wallet.UserID, restored.UserID)
	assert.True(t, restored.Balances.Get("usd").Equal(wallet.Balances.Get("usd")))
	assert.True(t, restored.Balances.Get("bitcoin").Equal(wallet.Balances.Get("bitcoin")))
}

func TestWalletFromDocCorruptBalance(t *testing.T) {
	doc := &walletDoc{
		UserID:   "u1",
		Balances: map[string]string{"usd": "not-a-number"},
	}

	_, err := walletFromDoc(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt usd balance")
}

func TestTransactionDocConversion(t *testing.T) {
	origin := mustDecimal(t, "60000")
	dest := mustDecimal(t, "3000")
	txn := &models.Transaction{
		ID:                     primitive.NewObjectID(),
		TransactionID:          "TXN-1-u1",
		UserID:                 "u1",
		WalletID:               primitive.NewObjectID(),
		BaseCurrency:           "bitcoin",
		BaseAmount:             mustDecimal(t, "1"),
		DestinationCurrency:    "ethereum",
		DestinationAmount:      mustDecimal(t, "20"),
		Rate:                   mustDecimal(t, "20"),
		SwapOriginUSDRate:      &origin,
		SwapDestinationUSDRate: &dest,
		Type:                   models.TypeSwap,
		Status:                 models.StatusCompleted,
		CreatedAt:              time.Now().UTC(),
	}

	doc := transactionToDoc(txn)
	assert.Equal(t, "1", doc.BaseAmount)
	assert.Equal(t, "60000", doc.SwapOriginUSDRate)

	restored, err := transactionFromDoc(doc)
	require.NoError(t, err)
	assert.Equal(t, txn.TransactionID, restored.TransactionID)
	assert.True(t, restored.Rate.Equal(txn.Rate))
	require.NotNil(t, restored.SwapOriginUSDRate)
	require.NotNil(t, restored.SwapDestinationUSDRate)
	assert.True(t, restored.SwapOriginUSDRate.Equal(origin))
	assert.True(t, restored.SwapDestinationUSDRate.Equal(dest))
}

func TestTransactionDocConversionWithoutSwapRates(t *testing.T) {
	txn := &models.Transaction{
		TransactionID:       "TXN-2-u1",
		UserID:              "u1",
		BaseCurrency:        "usd",
		BaseAmount:          mustDecimal(t, "500"),
		DestinationCurrency: "usd",
		DestinationAmount:   mustDecimal(t, "500"),
		Rate:                mustDecimal(t, "1"),
		Type:                models.TypeDeposit,
		Status:              models.StatusCompleted,
	}

	doc := transactionToDoc(txn)
	assert.Empty(t, doc.SwapOriginUSDRate)

	restored, err := transactionFromDoc(doc)
	require.NoError(t, err)
	assert.Nil(t, restored.SwapOriginUSDRate)
	assert.Nil(t, restored.SwapDestinationUSDRate)
}

func mustDecimal(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	out, err := decimal.NewFromString(value)
	require.NoError(t, err)
	return out
}
