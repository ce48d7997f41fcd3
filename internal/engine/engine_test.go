package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/repository"
)

// memStore is an in-memory WalletStore with real per-user serialization so
// concurrency tests exercise the same contract as the production store.
type memStore struct {
	mu          sync.Mutex
	userLocks   map[string]*sync.Mutex
	users       map[string]bool
	wallets     map[string]*models.Wallet
	ledger      map[string][]*models.Transaction
	mutateCalls int
}

func newMemStore(userIDs ...string) *memStore {
	s := &memStore{
		userLocks: make(map[string]*sync.Mutex),
		users:     make(map[string]bool),
		wallets:   make(map[string]*models.Wallet),
		ledger:    make(map[string][]*models.Transaction),
	}
	for _, id := range userIDs {
		s.users[id] = true
	}
	return s
}

func (s *memStore) seed(userID string, balances models.BalanceMap) {
	s.users[userID] = true
	wallet := models.NewWallet(userID)
	wallet.Balances = balances.Clone()
	s.wallets[userID] = wallet
}

func (s *memStore) EnsureUser(ctx context.Context, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = true
	return nil
}

func (s *memStore) GetOrCreateWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(userID)
}

func (s *memStore) getOrCreateLocked(userID string) (*models.Wallet, error) {
	if !s.users[userID] {
		return nil, repository.ErrUserNotFound
	}
	if wallet, ok := s.wallets[userID]; ok {
		return wallet, nil
	}
	wallet := models.NewWallet(userID)
	s.wallets[userID] = wallet
	return wallet, nil
}

func (s *memStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userLocks[userID]; !ok {
		s.userLocks[userID] = &sync.Mutex{}
	}
	return s.userLocks[userID]
}

func (s *memStore) LockedMutate(ctx context.Context, userID string, fn repository.MutateFunc) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.mutateCalls++
	wallet, err := s.getOrCreateLocked(userID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	newBalances, txn, err := fn(wallet)
	if err != nil {
		return err
	}
	if err := newBalances.Validate(); err != nil {
		return fmt.Errorf("mutation produced invalid balances: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wallet.Balances = newBalances
	wallet.UpdatedAt = time.Now().UTC()
	if txn != nil {
		txn.WalletID = wallet.ID
		s.ledger[userID] = append(s.ledger[userID], txn)
	}
	return nil
}

func (s *memStore) ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.users[userID] {
		return nil, repository.ErrUserNotFound
	}

	rows := s.ledger[userID]
	matched := make([]*models.Transaction, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		txn := rows[i]
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		if filter.Currency != "" && txn.BaseCurrency != filter.Currency && txn.DestinationCurrency != filter.Currency {
			continue
		}
		matched = append(matched, txn)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

type stubOracle struct {
	prices map[string]decimal.Decimal
	calls  int
}

func (o *stubOracle) GetUSDPrice(ctx context.Context, currencyID string) (decimal.Decimal, error) {
	o.calls++
	if currencyID == models.CurrencyUSD {
		return decimal.NewFromInt(1), nil
	}
	price, ok := o.prices[currencyID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", oracle.ErrPriceUnavailable, currencyID)
	}
	return price, nil
}

type stubCatalog struct {
	supported map[string]bool
}

func (c *stubCatalog) IsSupported(ctx context.Context, currencyID string) (bool, error) {
	if currencyID == models.CurrencyUSD {
		return true, nil
	}
	return c.supported[currencyID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Transaction
	err    error
}

func (p *recordingPublisher) PublishTransactionCompleted(ctx context.Context, txn *models.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, txn)
	return p.err
}

func newTestEngine(store *memStore, prices map[string]decimal.Decimal, supported ...string) (*LedgerEngine, *recordingPublisher) {
	supportedSet := make(map[string]bool, len(supported))
	for _, id := range supported {
		supportedSet[id] = true
	}
	publisher := &recordingPublisher{}
	eng := NewLedgerEngine(store, &stubOracle{prices: prices}, &stubCatalog{supported: supportedSet}, publisher, nil)
	return eng, publisher
}

func d(value string) decimal.Decimal {
	out, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return out
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits USD and appends a ledger row", func(t *testing.T) {
		store := newMemStore("u1")
		eng, publisher := newTestEngine(store, nil)

		result := eng.Deposit(ctx, "u1", d("1000"))

		require.True(t, result.Success)
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, "Successfully deposited 1000 USD", result.Message)
		assert.True(t, result.FinalBalances.Get("usd").Equal(d("1000")))

		require.NotNil(t, result.Transaction)
		assert.Equal(t, models.TypeDeposit, result.Transaction.Type)
		assert.Equal(t, models.StatusCompleted, result.Transaction.Status)
		assert.True(t, result.Transaction.Rate.Equal(d("1")))

		rows, err := store.ListTransactions(ctx, "u1", models.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Len(t, publisher.events, 1)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		store := newMemStore("u1")
		eng, publisher := newTestEngine(store, nil)

		for _, amount := range []decimal.Decimal{decimal.Zero, d("-5")} {
			result := eng.Deposit(ctx, "u1", amount)
			assert.False(t, result.Success)
			assert.Equal(t, StatusInvalidInput, result.Status)
			assert.Equal(t, "Amount must be positive", result.Message)
			assert.Equal(t, ErrKindValidation, result.ErrorKind)
			assert.Nil(t, result.FinalBalances)
		}

		rows, err := store.ListTransactions(ctx, "u1", models.TransactionFilter{})
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.Empty(t, publisher.events)
	})

	t.Run("unknown user maps to not_found", func(t *testing.T) {
		eng, _ := newTestEngine(newMemStore(), nil)

		result := eng.Deposit(ctx, "ghost", d("10"))
		assert.False(t, result.Success)
		assert.Equal(t, StatusNotFound, result.Status)
		assert.Equal(t, ErrKindDoesNotExist, result.ErrorKind)
	})
}

func TestTradeBuy(t *testing.T) {
	ctx := context.Background()

	t.Run("debits USD cost and credits the asset", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"usd": d("1000")})
		eng, _ := newTestEngine(store, map[string]decimal.Decimal{"ethereum": d("300")}, "ethereum")

		result := eng.Trade(ctx, "u1", SideBuy, d("2"), "ethereum")

		require.True(t, result.Success)
		assert.True(t, result.FinalBalances.Get("usd").Equal(d("400")))
		assert.True(t, result.FinalBalances.Get("ethereum").Equal(d("2")))

		txn := result.Transaction
		require.NotNil(t, txn)
		assert.Equal(t, models.TypeBuy, txn.Type)
		assert.Equal(t, "usd", txn.BaseCurrency)
		assert.True(t, txn.BaseAmount.Equal(d("600")))
		assert.Equal(t, "ethereum", txn.DestinationCurrency)
		assert.True(t, txn.DestinationAmount.Equal(d("2")))
		assert.True(t, txn.Rate.Equal(d("300")))
	})

	t.Run("insufficient USD leaves no effects", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"usd": d("100")})
		eng, publisher := newTestEngine(store, map[string]decimal.Decimal{"bitcoin": d("60000")}, "bitcoin")

		result := eng.Trade(ctx, "u1", SideBuy, d("1"), "bitcoin")

		assert.False(t, result.Success)
		assert.Equal(t, StatusInsufficientFunds, result.Status)
		assert.Equal(t, ErrKindInsufficientFunds, result.ErrorKind)
		assert.Equal(t, "Insufficient usd balance. Required: 60000, Available: 100", result.Message)

		wallet, err := store.GetOrCreateWallet(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, wallet.Balances.Get("usd").Equal(d("100")))
		rows, _ := store.ListTransactions(ctx, "u1", models.TransactionFilter{})
		assert.Empty(t, rows)
		assert.Empty(t, publisher.events)
	})
}

func TestTradeSell(t *testing.T) {
	ctx := context.Background()

	t.Run("debits the asset and credits USD proceeds", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"ethereum": d("5")})
		eng, _ := newTestEngine(store, map[string]decimal.Decimal{"ethereum": d("250")}, "ethereum")

		result := eng.Trade(ctx, "u1", SideSell, d("2"), "ethereum")

		require.True(t, result.Success)
		assert.True(t, result.FinalBalances.Get("ethereum").Equal(d("3")))
		assert.True(t, result.FinalBalances.Get("usd").Equal(d("500")))

		txn := result.Transaction
		require.NotNil(t, txn)
		assert.Equal(t, models.TypeSell, txn.Type)
		assert.Equal(t, "ethereum", txn.BaseCurrency)
		assert.Equal(t, "usd", txn.DestinationCurrency)
		assert.True(t, txn.DestinationAmount.Equal(d("500")))
	})

	t.Run("insufficient holdings leaves no effects", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"ethereum": d("1")})
		eng, _ := newTestEngine(store, map[string]decimal.Decimal{"ethereum": d("250")}, "ethereum")

		result := eng.Trade(ctx, "u1", SideSell, d("2"), "ethereum")

		assert.False(t, result.Success)
		assert.Equal(t, StatusInsufficientFunds, result.Status)
		assert.Equal(t, "Insufficient ethereum balance. Required: 2, Available: 1", result.Message)

		wallet, _ := store.GetOrCreateWallet(ctx, "u1")
		assert.True(t, wallet.Balances.Get("ethereum").Equal(d("1")))
	})
}

func TestTradeValidation(t *testing.T) {
	ctx := context.Background()

	store := newMemStore("u1")
	eng, _ := newTestEngine(store, map[string]decimal.Decimal{"bitcoin": d("60000")}, "bitcoin")

	tests := []struct {
		name       string
		side       string
		amount     decimal.Decimal
		currency   string
		wantStatus string
	}{
		{"zero amount", SideBuy, decimal.Zero, "bitcoin", StatusInvalidInput},
		{"negative amount", SideSell, d("-1"), "bitcoin", StatusInvalidInput},
		{"usd is not tradable", SideBuy, d("1"), "usd", StatusInvalidPair},
		{"unsupported currency", SideBuy, d("1"), "dogecoin", StatusUnsupportedCurrency},
		{"unknown side", "short", d("1"), "bitcoin", StatusInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := eng.Trade(ctx, "u1", tt.side, tt.amount, tt.currency)
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantStatus, result.Status)
		})
	}

	assert.Zero(t, store.mutateCalls, "failed validations must never touch the wallet")
}

func TestTradePriceUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("u1", models.BalanceMap{"usd": d("1000")})
	eng, _ := newTestEngine(store, nil, "bitcoin")

	result := eng.Trade(ctx, "u1", SideBuy, d("1"), "bitcoin")

	assert.False(t, result.Success)
	assert.Equal(t, StatusPriceUnavailable, result.Status)
	assert.Zero(t, store.mutateCalls, "a failed price fetch must never reach the wallet lock")
}

func TestSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("two USD legs priced at the same instant", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"bitcoin": d("2")})
		eng, _ := newTestEngine(store, map[string]decimal.Decimal{
			"bitcoin":  d("60000"),
			"ethereum": d("3000"),
		}, "bitcoin", "ethereum")

		result := eng.Swap(ctx, "u1", d("1"), "bitcoin", "ethereum")

		require.True(t, result.Success)
		assert.Equal(t, "Successfully swapped 1 bitcoin for 20 ethereum", result.Message)
		assert.True(t, result.FinalBalances.Get("bitcoin").Equal(d("1")))
		assert.True(t, result.FinalBalances.Get("ethereum").Equal(d("20")))

		txn := result.Transaction
		require.NotNil(t, txn)
		assert.Equal(t, models.TypeSwap, txn.Type)
		assert.Equal(t, "bitcoin", txn.BaseCurrency)
		assert.Equal(t, "ethereum", txn.DestinationCurrency)
		assert.True(t, txn.Rate.Equal(d("20")))
		require.NotNil(t, txn.SwapOriginUSDRate)
		require.NotNil(t, txn.SwapDestinationUSDRate)
		assert.True(t, txn.SwapOriginUSDRate.Equal(d("60000")))
		assert.True(t, txn.SwapDestinationUSDRate.Equal(d("3000")))
	})

	t.Run("self swap is an invalid pair", func(t *testing.T) {
		store := newMemStore("u1")
		eng, _ := newTestEngine(store, map[string]decimal.Decimal{"bitcoin": d("60000")}, "bitcoin")

		result := eng.Swap(ctx, "u1", d("1"), "bitcoin", "bitcoin")

		assert.False(t, result.Success)
		assert.Equal(t, StatusInvalidPair, result.Status)
		assert.Equal(t, "Cannot swap currency for itself", result.Message)
	})

	t.Run("insufficient origin balance leaves no effects", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"bitcoin": d("0.5")})
		eng, publisher := newTestEngine(store, map[string]decimal.Decimal{
			"bitcoin":  d("60000"),
			"ethereum": d("3000"),
		}, "bitcoin", "ethereum")

		result := eng.Swap(ctx, "u1", d("1"), "bitcoin", "ethereum")

		assert.False(t, result.Success)
		assert.Equal(t, StatusInsufficientFunds, result.Status)

		wallet, _ := store.GetOrCreateWallet(ctx, "u1")
		assert.True(t, wallet.Balances.Get("bitcoin").Equal(d("0.5")))
		assert.True(t, wallet.Balances.Get("ethereum").IsZero())
		rows, _ := store.ListTransactions(ctx, "u1", models.TransactionFilter{})
		assert.Empty(t, rows)
		assert.Empty(t, publisher.events)
	})

	t.Run("one missing quote fails the whole swap before the lock", func(t *testing.T) {
		store := newMemStore()
		store.seed("u1", models.BalanceMap{"bitcoin": d("2")})
		eng, _ := newTestEngine(store, map[string]decimal.Decimal{"bitcoin": d("60000")}, "bitcoin", "ethereum")

		result := eng.Swap(ctx, "u1", d("1"), "bitcoin", "ethereum")

		assert.False(t, result.Success)
		assert.Equal(t, StatusPriceUnavailable, result.Status)
		assert.Equal(t, "Price data unavailable for one or both currencies", result.Message)
		assert.Zero(t, store.mutateCalls)
	})
}

func TestConcurrentSellsOneWins(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("u1", models.BalanceMap{"bitcoin": d("1")})
	eng, _ := newTestEngine(store, map[string]decimal.Decimal{"bitcoin": d("60000")}, "bitcoin")

	var wg sync.WaitGroup
	results := make([]*TransactionResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = eng.Trade(ctx, "u1", SideSell, d("1"), "bitcoin")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, result := range results {
		if result.Success {
			successes++
		} else {
			assert.Equal(t, StatusInsufficientFunds, result.Status)
		}
	}
	assert.Equal(t, 1, successes, "exactly one of two jointly-overdrawing sells may win")

	wallet, _ := store.GetOrCreateWallet(ctx, "u1")
	assert.True(t, wallet.Balances.Get("bitcoin").IsZero())
	assert.True(t, wallet.Balances.Get("usd").Equal(d("60000")))

	rows, _ := store.ListTransactions(ctx, "u1", models.TransactionFilter{})
	assert.Len(t, rows, 1)
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed("u1", models.BalanceMap{"usd": d("100000")})
	eng, _ := newTestEngine(store, map[string]decimal.Decimal{
		"bitcoin":  d("60000"),
		"ethereum": d("3000"),
	}, "bitcoin", "ethereum")

	require.True(t, eng.Deposit(ctx, "u1", d("500")).Success)
	require.True(t, eng.Trade(ctx, "u1", SideBuy, d("1"), "bitcoin").Success)
	require.True(t, eng.Trade(ctx, "u1", SideBuy, d("2"), "ethereum").Success)
	require.True(t, eng.Swap(ctx, "u1", d("1"), "ethereum", "bitcoin").Success)

	t.Run("newest first", func(t *testing.T) {
		result := eng.ListTransactions(ctx, "u1", models.TransactionFilter{})
		require.True(t, result.Success)
		require.Len(t, result.Transactions, 4)
		assert.Equal(t, models.TypeSwap, result.Transactions[0].Type)
		assert.Equal(t, models.TypeDeposit, result.Transactions[3].Type)
	})

	t.Run("type filter", func(t *testing.T) {
		result := eng.ListTransactions(ctx, "u1", models.TransactionFilter{Type: models.TypeBuy})
		require.True(t, result.Success)
		require.Len(t, result.Transactions, 2)
	})

	t.Run("currency filter matches either side", func(t *testing.T) {
		result := eng.ListTransactions(ctx, "u1", models.TransactionFilter{Currency: "bitcoin"})
		require.True(t, result.Success)
		require.Len(t, result.Transactions, 2)
	})

	t.Run("limit and offset", func(t *testing.T) {
		result := eng.ListTransactions(ctx, "u1", models.TransactionFilter{Limit: 2, Offset: 1})
		require.True(t, result.Success)
		require.Len(t, result.Transactions, 2)
		assert.Equal(t, models.TypeBuy, result.Transactions[0].Type)
	})

	t.Run("negative limit is invalid input", func(t *testing.T) {
		result := eng.ListTransactions(ctx, "u1", models.TransactionFilter{Limit: -1})
		assert.False(t, result.Success)
		assert.Equal(t, StatusInvalidInput, result.Status)
	})

	t.Run("unknown user is not_found", func(t *testing.T) {
		result := eng.ListTransactions(ctx, "ghost", models.TransactionFilter{})
		assert.False(t, result.Success)
		assert.Equal(t, StatusNotFound, result.Status)
		assert.Equal(t, ErrKindDoesNotExist, result.ErrorKind)
	})
}

func TestPublisherFailureDoesNotAffectResult(t *testing.T) {
	ctx := context.Background()
	store := newMemStore("u1")
	supported := map[string]bool{}
	publisher := &recordingPublisher{err: fmt.Errorf("broker down")}
	eng := NewLedgerEngine(store, &stubOracle{}, &stubCatalog{supported: supported}, publisher, nil)

	result := eng.Deposit(ctx, "u1", d("10"))
	require.True(t, result.Success)
	assert.Len(t, publisher.events, 1)
}
