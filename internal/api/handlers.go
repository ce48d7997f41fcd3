package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/engine"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/repository"
)

// WalletReader is the slice of the wallet store the HTTP surface reads from.
type WalletReader interface {
	GetOrCreateWallet(ctx context.Context, userID string) (*models.Wallet, error)
}

// LedgerLister lists ledger rows with the engine's validation applied.
type LedgerLister interface {
	ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) *engine.ListResult
}

type WalletHandler struct {
	wallets WalletReader
	ledger  LedgerLister
}

func NewWalletHandler(wallets WalletReader, ledger LedgerLister) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		ledger:  ledger,
	}
}

// ErrorResponse is the HTTP error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BalanceResponse reports a wallet's balances as decimal strings.
type BalanceResponse struct {
	UserID    string            `json:"user_id"`
	Balances  map[string]string `json:"balances"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TransactionResponse is one ledger row on the wire. Amounts are decimal
// strings.
type TransactionResponse struct {
	TransactionID       string    `json:"transaction_id"`
	Type                string    `json:"type"`
	Status              string    `json:"status"`
	BaseCurrency        string    `json:"base_currency"`
	BaseAmount          string    `json:"base_amount"`
	DestinationCurrency string    `json:"destination_currency"`
	DestinationAmount   string    `json:"destination_amount"`
	Rate                string    `json:"rate"`
	Details             string    `json:"details,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type listTransactionsQuery struct {
	Type     string `form:"type" binding:"omitempty,oneof=buy sell swap deposit"`
	Currency string `form:"currency" binding:"omitempty,currencyid"`
	Limit    int    `form:"limit" binding:"omitempty,gte=0,lte=100"`
	Offset   int    `form:"offset" binding:"omitempty,gte=0"`
}

func (h *WalletHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID := c.Param("userId")

	wallet, err := h.wallets.GetOrCreateWallet(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "User not found",
				Message: "No user exists with the given ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to get balance",
		})
		return
	}

	balances := make(map[string]string, len(wallet.Balances))
	for currency, amount := range wallet.Balances {
		balances[currency] = amount.String()
	}

	c.JSON(http.StatusOK, BalanceResponse{
		UserID:    wallet.UserID,
		Balances:  balances,
		UpdatedAt: wallet.UpdatedAt,
	})
}

func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID := c.Param("userId")

	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	result := h.ledger.ListTransactions(c.Request.Context(), userID, models.TransactionFilter{
		Type:     query.Type,
		Currency: query.Currency,
		Limit:    query.Limit,
		Offset:   query.Offset,
	})

	if !result.Success {
		status := http.StatusInternalServerError
		switch result.Status {
		case engine.StatusNotFound:
			status = http.StatusNotFound
		case engine.StatusInvalidInput:
			status = http.StatusBadRequest
		}
		c.JSON(status, ErrorResponse{
			Error:   result.ErrorKind,
			Message: result.Message,
		})
		return
	}

	transactions := make([]TransactionResponse, 0, len(result.Transactions))
	for _, txn := range result.Transactions {
		transactions = append(transactions, TransactionResponse{
			TransactionID:       txn.TransactionID,
			Type:                txn.Type,
			Status:              txn.Status,
			BaseCurrency:        txn.BaseCurrency,
			BaseAmount:          txn.BaseAmount.String(),
			DestinationCurrency: txn.DestinationCurrency,
			DestinationAmount:   txn.DestinationAmount.String(),
			Rate:                txn.Rate.String(),
			Details:             txn.Details,
			CreatedAt:           txn.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      userID,
		"transactions": transactions,
		"count":        len(transactions),
	})
}
