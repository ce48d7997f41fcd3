package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
)

// MutateFunc inspects a wallet and returns the full post-operation balance
// map plus the ledger row to append. Returning an error aborts the mutation;
// nothing is persisted.
type MutateFunc func(wallet *models.Wallet) (models.BalanceMap, *models.Transaction, error)

// WalletStore is the persistence boundary of the ledger engine. LockedMutate
// serializes all mutations per user: two concurrent calls for the same user
// never interleave, and the balance update plus ledger append commit
// atomically or not at all.
type WalletStore interface {
	EnsureUser(ctx context.Context, userID, username string) error
	GetOrCreateWallet(ctx context.Context, userID string) (*models.Wallet, error)
	LockedMutate(ctx context.Context, userID string, fn MutateFunc) error
	ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error)
}

type walletStore struct {
	client       *mongo.Client
	users        UserRepository
	wallets      WalletRepository
	transactions TransactionRepository
	locks        LockRepository
	lockTTL      time.Duration
	logger       *logrus.Entry
}

func NewWalletStore(
	client *mongo.Client,
	users UserRepository,
	wallets WalletRepository,
	transactions TransactionRepository,
	locks LockRepository,
	lockTTL time.Duration,
) WalletStore {
	return &walletStore{
		client:       client,
		users:        users,
		wallets:      wallets,
		transactions: transactions,
		locks:        locks,
		lockTTL:      lockTTL,
		logger:       logrus.WithField("component", "wallet_store"),
	}
}

func (s *walletStore) EnsureUser(ctx context.Context, userID, username string) error {
	return s.users.Ensure(ctx, models.NewUser(userID, username))
}

// GetOrCreateWallet returns the user's wallet, creating an empty one on
// first access. The user record must already exist.
func (s *walletStore) GetOrCreateWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if _, err := s.users.GetByUserID(ctx, userID); err != nil {
		return nil, err
	}

	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	wallet = models.NewWallet(userID)
	if createErr := s.wallets.Create(ctx, wallet); createErr != nil {
		// A concurrent first access may have won the unique-index race.
		if existing, getErr := s.wallets.GetByUserID(ctx, userID); getErr == nil {
			return existing, nil
		}
		return nil, createErr
	}
	return wallet, nil
}

func (s *walletStore) LockedMutate(ctx context.Context, userID string, fn MutateFunc) error {
	lock, err := s.locks.AcquireLockWait(ctx, walletLockKey(userID), s.lockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := s.locks.ReleaseLock(context.WithoutCancel(ctx), lock); releaseErr != nil {
			s.logger.WithError(releaseErr).WithField("user_id", userID).Warn("Failed to release wallet lock")
		}
	}()

	wallet, err := s.GetOrCreateWallet(ctx, userID)
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

	return s.commit(ctx, wallet, newBalances, txn)
}

// commit persists the balance update and the ledger append in one Mongo
// transaction so a failure of either leaves no partial effect.
func (s *walletStore) commit(ctx context.Context, wallet *models.Wallet, balances models.BalanceMap, txn *models.Transaction) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if err := s.wallets.ReplaceBalances(sessCtx, wallet.ID, balances); err != nil {
			return nil, err
		}
		if txn != nil {
			txn.WalletID = wallet.ID
			if err := s.transactions.Insert(sessCtx, txn); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit wallet mutation: %w", err)
	}
	return nil
}

func (s *walletStore) ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	if _, err := s.users.GetByUserID(ctx, userID); err != nil {
		return nil, err
	}
	return s.transactions.List(ctx, userID, filter)
}

func walletLockKey(userID string) string {
	return fmt.Sprintf("wallet:%s", userID)
}
