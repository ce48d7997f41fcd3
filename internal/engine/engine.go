package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/repository"
)

// Operation outcome statuses.
const (
	StatusCompleted           = "completed"
	StatusInvalidInput        = "invalid_input"
	StatusInvalidPair         = "invalid_pair"
	StatusUnsupportedCurrency = "unsupported_currency"
	StatusPriceUnavailable    = "price_unavailable"
	StatusInsufficientFunds   = "insufficient_funds"
	StatusNotFound            = "not_found"
	StatusError               = "error"
)

// Error kinds carried by failed results.
const (
	ErrKindValidation        = "ValidationError"
	ErrKindInsufficientFunds = "InsufficientFundsError"
	ErrKindDoesNotExist      = "DoesNotExistError"
	ErrKindInternal          = "InternalError"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	// DefaultListLimit applies when a listing asks for no explicit limit.
	DefaultListLimit = 10
	// MaxListLimit caps a single listing page.
	MaxListLimit = 100
)

// TransactionResult is the complete outcome of a ledger operation. Failures
// are values, not Go errors: the engine never lets an error cross its
// boundary.
type TransactionResult struct {
	Success       bool                `json:"success"`
	Status        string              `json:"status"`
	Message       string              `json:"message"`
	FinalBalances models.BalanceMap   `json:"final_balances,omitempty"`
	Transaction   *models.Transaction `json:"transaction,omitempty"`
	ErrorKind     string              `json:"error_kind,omitempty"`
}

// ListResult is the outcome of a ledger listing.
type ListResult struct {
	Success      bool                  `json:"success"`
	Status       string                `json:"status"`
	Message      string                `json:"message,omitempty"`
	ErrorKind    string                `json:"error_kind,omitempty"`
	Transactions []*models.Transaction `json:"transactions,omitempty"`
}

// EventPublisher announces completed transactions. A nil publisher is
// tolerated; publishing is best effort and never affects the result.
type EventPublisher interface {
	PublishTransactionCompleted(ctx context.Context, txn *models.Transaction) error
}

// MetricsRecorder records operation outcomes. A nil recorder is tolerated.
type MetricsRecorder interface {
	RecordOperation(operation, status string, duration time.Duration)
}

// LedgerEngine executes every balance-changing operation of the exchange.
// All validation happens before any state is touched; per-user serialization
// and atomic persistence are delegated to the WalletStore.
type LedgerEngine struct {
	store     repository.WalletStore
	oracle    oracle.PriceOracle
	catalog   CatalogChecker
	publisher EventPublisher
	metrics   MetricsRecorder
	logger    *logrus.Entry
}

// CatalogChecker is the slice of the currency catalog the engine needs.
type CatalogChecker interface {
	IsSupported(ctx context.Context, currencyID string) (bool, error)
}

func NewLedgerEngine(
	store repository.WalletStore,
	priceOracle oracle.PriceOracle,
	catalog CatalogChecker,
	publisher EventPublisher,
	metrics MetricsRecorder,
) *LedgerEngine {
	return &LedgerEngine{
		store:     store,
		oracle:    priceOracle,
		catalog:   catalog,
		publisher: publisher,
		metrics:   metrics,
		logger:    logrus.WithField("component", "ledger_engine"),
	}
}

// errAborted signals the wallet store that the mutation decided to fail;
// the concrete failure is captured in the closure's result variable.
var errAborted = errors.New("mutation aborted")

// Deposit credits USD to the user's wallet and appends a deposit row to the
// ledger.
func (e *LedgerEngine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) *TransactionResult {
	start := time.Now()
	result := e.deposit(ctx, userID, amount)
	e.finish(ctx, models.TypeDeposit, result, start)
	return result
}

func (e *LedgerEngine) deposit(ctx context.Context, userID string, amount decimal.Decimal) *TransactionResult {
	if !amount.IsPositive() {
		return failure(StatusInvalidInput, "Amount must be positive", ErrKindValidation)
	}

	var result *TransactionResult
	err := e.store.LockedMutate(ctx, userID, func(wallet *models.Wallet) (models.BalanceMap, *models.Transaction, error) {
		balances := wallet.Balances.Clone()
		balances[models.CurrencyUSD] = balances.Get(models.CurrencyUSD).Add(amount)

		txn := &models.Transaction{
			TransactionID:       models.NewTransactionID(userID),
			UserID:              userID,
			BaseCurrency:        models.CurrencyUSD,
			BaseAmount:          amount,
			DestinationCurrency: models.CurrencyUSD,
			DestinationAmount:   amount,
			Rate:                decimal.NewFromInt(1),
			Type:                models.TypeDeposit,
			Status:              models.StatusCompleted,
			Details:             fmt.Sprintf("Deposited %s USD", amount.String()),
			CreatedAt:           time.Now().UTC(),
		}

		result = success(fmt.Sprintf("Successfully deposited %s USD", amount.String()), balances, txn)
		return balances, txn, nil
	})
	if err != nil {
		return e.storeFailure(err, userID)
	}
	return result
}

// Trade buys or sells a cryptocurrency against the USD balance at the
// current oracle price.
func (e *LedgerEngine) Trade(ctx context.Context, userID, side string, amount decimal.Decimal, currencyID string) *TransactionResult {
	start := time.Now()
	result := e.trade(ctx, userID, side, amount, currencyID)
	e.finish(ctx, side, result, start)
	return result
}

func (e *LedgerEngine) trade(ctx context.Context, userID, side string, amount decimal.Decimal, currencyID string) *TransactionResult {
	if side != SideBuy && side != SideSell {
		return failure(StatusInvalidInput, fmt.Sprintf("Unknown trade side: %s", side), ErrKindValidation)
	}
	if !amount.IsPositive() {
		return failure(StatusInvalidInput, "Amount must be positive", ErrKindValidation)
	}
	if currencyID == models.CurrencyUSD {
		return failure(StatusInvalidPair, "Cannot trade USD for itself", ErrKindValidation)
	}

	if result := e.checkSupported(ctx, currencyID); result != nil {
		return result
	}

	// Price resolves before the wallet lock so a slow or dead upstream
	// never holds up other operations on the same wallet.
	price, err := e.oracle.GetUSDPrice(ctx, currencyID)
	if err != nil {
		return failure(StatusPriceUnavailable, "Price data unavailable", ErrKindValidation)
	}

	var result *TransactionResult
	err = e.store.LockedMutate(ctx, userID, func(wallet *models.Wallet) (models.BalanceMap, *models.Transaction, error) {
		balances := wallet.Balances.Clone()

		var txn *models.Transaction
		switch side {
		case SideBuy:
			cost := amount.Mul(price)
			usdBalance := balances.Get(models.CurrencyUSD)
			if usdBalance.LessThan(cost) {
				result = insufficientFunds(models.CurrencyUSD, cost, usdBalance)
				return nil, nil, errAborted
			}
			balances[models.CurrencyUSD] = usdBalance.Sub(cost)
			balances[currencyID] = balances.Get(currencyID).Add(amount)

			txn = &models.Transaction{
				TransactionID:       models.NewTransactionID(userID),
				UserID:              userID,
				BaseCurrency:        models.CurrencyUSD,
				BaseAmount:          cost,
				DestinationCurrency: currencyID,
				DestinationAmount:   amount,
				Rate:                price,
				Type:                models.TypeBuy,
				Status:              models.StatusCompleted,
				CreatedAt:           time.Now().UTC(),
			}
			result = success(fmt.Sprintf("Successfully bought %s %s for %s USD", amount.String(), currencyID, cost.String()), balances, txn)

		case SideSell:
			held := balances.Get(currencyID)
			if held.LessThan(amount) {
				result = insufficientFunds(currencyID, amount, held)
				return nil, nil, errAborted
			}
			proceeds := amount.Mul(price)
			balances[currencyID] = held.Sub(amount)
			balances[models.CurrencyUSD] = balances.Get(models.CurrencyUSD).Add(proceeds)

			txn = &models.Transaction{
				TransactionID:       models.NewTransactionID(userID),
				UserID:              userID,
				BaseCurrency:        currencyID,
				BaseAmount:          amount,
				DestinationCurrency: models.CurrencyUSD,
				DestinationAmount:   proceeds,
				Rate:                price,
				Type:                models.TypeSell,
				Status:              models.StatusCompleted,
				CreatedAt:           time.Now().UTC(),
			}
			result = success(fmt.Sprintf("Successfully sold %s %s for %s USD", amount.String(), currencyID, proceeds.String()), balances, txn)
		}

		return balances, txn, nil
	})
	if err != nil {
		if errors.Is(err, errAborted) {
			return result
		}
		return e.storeFailure(err, userID)
	}
	return result
}

// Swap exchanges one currency for another through two USD legs priced at
// the same instant.
func (e *LedgerEngine) Swap(ctx context.Context, userID string, amount decimal.Decimal, fromCurrency, toCurrency string) *TransactionResult {
	start := time.Now()
	result := e.swap(ctx, userID, amount, fromCurrency, toCurrency)
	e.finish(ctx, models.TypeSwap, result, start)
	return result
}

func (e *LedgerEngine) swap(ctx context.Context, userID string, amount decimal.Decimal, fromCurrency, toCurrency string) *TransactionResult {
	if !amount.IsPositive() {
		return failure(StatusInvalidInput, "Amount must be positive", ErrKindValidation)
	}
	if fromCurrency == toCurrency {
		return failure(StatusInvalidPair, "Cannot swap currency for itself", ErrKindValidation)
	}

	if result := e.checkSupported(ctx, fromCurrency); result != nil {
		return result
	}
	if result := e.checkSupported(ctx, toCurrency); result != nil {
		return result
	}

	// Both legs price before the lock; a single failed quote fails the
	// whole swap with the wallet untouched.
	originPrice, err := e.oracle.GetUSDPrice(ctx, fromCurrency)
	if err != nil {
		return failure(StatusPriceUnavailable, "Price data unavailable for one or both currencies", ErrKindValidation)
	}
	destPrice, err := e.oracle.GetUSDPrice(ctx, toCurrency)
	if err != nil {
		return failure(StatusPriceUnavailable, "Price data unavailable for one or both currencies", ErrKindValidation)
	}

	totalUSD := amount.Mul(originPrice)
	destAmount := totalUSD.Div(destPrice)
	rate := destAmount.Div(amount)

	var result *TransactionResult
	err = e.store.LockedMutate(ctx, userID, func(wallet *models.Wallet) (models.BalanceMap, *models.Transaction, error) {
		balances := wallet.Balances.Clone()

		held := balances.Get(fromCurrency)
		if held.LessThan(amount) {
			result = insufficientFunds(fromCurrency, amount, held)
			return nil, nil, errAborted
		}
		balances[fromCurrency] = held.Sub(amount)
		balances[toCurrency] = balances.Get(toCurrency).Add(destAmount)

		originRate := originPrice
		destRate := destPrice
		txn := &models.Transaction{
			TransactionID:          models.NewTransactionID(userID),
			UserID:                 userID,
			BaseCurrency:           fromCurrency,
			BaseAmount:             amount,
			DestinationCurrency:    toCurrency,
			DestinationAmount:      destAmount,
			Rate:                   rate,
			SwapOriginUSDRate:      &originRate,
			SwapDestinationUSDRate: &destRate,
			Type:                   models.TypeSwap,
			Status:                 models.StatusCompleted,
			CreatedAt:              time.Now().UTC(),
		}

		result = success(fmt.Sprintf("Successfully swapped %s %s for %s %s", amount.String(), fromCurrency, destAmount.String(), toCurrency), balances, txn)
		return balances, txn, nil
	})
	if err != nil {
		if errors.Is(err, errAborted) {
			return result
		}
		return e.storeFailure(err, userID)
	}
	return result
}

// ListTransactions returns the user's ledger newest first.
func (e *LedgerEngine) ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) *ListResult {
	if filter.Limit < 0 || filter.Offset < 0 {
		return &ListResult{
			Success:   false,
			Status:    StatusInvalidInput,
			Message:   "Limit and offset cannot be negative",
			ErrorKind: ErrKindValidation,
		}
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}

	transactions, err := e.store.ListTransactions(ctx, userID, filter)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &ListResult{
				Success:   false,
				Status:    StatusNotFound,
				Message:   "User not found",
				ErrorKind: ErrKindDoesNotExist,
			}
		}
		e.logger.WithError(err).WithField("user_id", userID).Error("Transaction listing failed")
		return &ListResult{
			Success:   false,
			Status:    StatusError,
			Message:   "An unexpected error occurred",
			ErrorKind: ErrKindInternal,
		}
	}

	return &ListResult{
		Success:      true,
		Status:       StatusCompleted,
		Transactions: transactions,
	}
}

func (e *LedgerEngine) checkSupported(ctx context.Context, currencyID string) *TransactionResult {
	supported, err := e.catalog.IsSupported(ctx, currencyID)
	if err != nil {
		e.logger.WithError(err).WithField("currency", currencyID).Error("Catalog lookup failed")
		return failure(StatusError, "An unexpected error occurred", ErrKindInternal)
	}
	if !supported {
		return failure(StatusUnsupportedCurrency, "Currency not supported", ErrKindValidation)
	}
	return nil
}

// storeFailure maps wallet-store errors onto the failure taxonomy.
func (e *LedgerEngine) storeFailure(err error, userID string) *TransactionResult {
	if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, repository.ErrWalletNotFound) {
		return failure(StatusNotFound, "User not found", ErrKindDoesNotExist)
	}
	e.logger.WithError(err).WithField("user_id", userID).Error("Wallet mutation failed")
	return failure(StatusError, "An unexpected error occurred", ErrKindInternal)
}

// finish records metrics and publishes the completion event.
func (e *LedgerEngine) finish(ctx context.Context, operation string, result *TransactionResult, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordOperation(operation, result.Status, time.Since(start))
	}
	if result.Success && e.publisher != nil && result.Transaction != nil {
		if err := e.publisher.PublishTransactionCompleted(ctx, result.Transaction); err != nil {
			e.logger.WithError(err).WithField("transaction_id", result.Transaction.TransactionID).Warn("Failed to publish transaction event")
		}
	}
}

func success(message string, balances models.BalanceMap, txn *models.Transaction) *TransactionResult {
	return &TransactionResult{
		Success:       true,
		Status:        StatusCompleted,
		Message:       message,
		FinalBalances: balances,
		Transaction:   txn,
	}
}

func failure(status, message, errorKind string) *TransactionResult {
	return &TransactionResult{
		Success:   false,
		Status:    status,
		Message:   message,
		ErrorKind: errorKind,
	}
}

func insufficientFunds(currencyID string, required, available decimal.Decimal) *TransactionResult {
	return &TransactionResult{
		Success:   false,
		Status:    StatusInsufficientFunds,
		Message:   fmt.Sprintf("Insufficient %s balance. Required: %s, Available: %s", currencyID, required.String(), available.String()),
		ErrorKind: ErrKindInsufficientFunds,
	}
}
