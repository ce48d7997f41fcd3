package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
)

type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByUserID(ctx context.Context, userID string) (*models.Wallet, error)
	ReplaceBalances(ctx context.Context, walletID primitive.ObjectID, balances models.BalanceMap) error
	CreateIndexes(ctx context.Context) error
}

// walletDoc is the persisted shape of a wallet. Balances are stored as
// canonical decimal strings so no binary float ever touches an amount.
type walletDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"user_id"`
	Balances  map[string]string  `bson:"balances"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func walletToDoc(wallet *models.Wallet) *walletDoc {
	balances := make(map[string]string, len(wallet.Balances))
	for currency, amount := range wallet.Balances {
		balances[currency] = amount.String()
	}
	return &walletDoc{
		ID:        wallet.ID,
		UserID:    wallet.UserID,
		Balances:  balances,
		CreatedAt: wallet.CreatedAt,
		UpdatedAt: wallet.UpdatedAt,
	}
}

func walletFromDoc(doc *walletDoc) (*models.Wallet, error) {
	balances := make(models.BalanceMap, len(doc.Balances))
	for currency, raw := range doc.Balances {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt %s balance %q: %w", currency, raw, err)
		}
		balances[currency] = amount
	}
	return &models.Wallet{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Balances:  balances,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func balancesToDoc(balances models.BalanceMap) map[string]string {
	out := make(map[string]string, len(balances))
	for currency, amount := range balances {
		out[currency] = amount.String()
	}
	return out
}

type walletRepository struct {
	collection *mongo.Collection
}

func NewWalletRepository(db *mongo.Database) WalletRepository {
	return &walletRepository{
		collection: db.Collection("wallets"),
	}
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := wallet.Validate(); err != nil {
		return fmt.Errorf("invalid wallet: %w", err)
	}

	now := time.Now().UTC()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, walletToDoc(wallet))
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	wallet.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *walletRepository) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	var doc walletDoc
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet by user ID: %w", err)
	}
	return walletFromDoc(&doc)
}

// ReplaceBalances overwrites the full balance map of a wallet.
func (r *walletRepository) ReplaceBalances(ctx context.Context, walletID primitive.ObjectID, balances models.BalanceMap) error {
	if err := balances.Validate(); err != nil {
		return fmt.Errorf("invalid balances: %w", err)
	}

	filter := bson.M{"_id": walletID}
	update := bson.M{
		"$set": bson.M{
			"balances":   balancesToDoc(balances),
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update wallet balances: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// CreateIndexes creates necessary indexes for the wallets collection
func (r *walletRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create wallet indexes: %w", err)
	}
	return nil
}
