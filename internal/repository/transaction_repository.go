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

type TransactionRepository interface {
	Insert(ctx context.Context, txn *models.Transaction) error
	List(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error)
	CreateIndexes(ctx context.Context) error
}

// transactionDoc is the persisted shape of a ledger row. Amounts and rates
// are stored as canonical decimal strings.
type transactionDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	TransactionID string             `bson:"transaction_id"`
	UserID        string             `bson:"user_id"`
	WalletID      primitive.ObjectID `bson:"wallet_id"`

	BaseCurrency        string `bson:"base_currency"`
	BaseAmount          string `bson:"base_amount"`
	DestinationCurrency string `bson:"destination_currency"`
	DestinationAmount   string `bson:"destination_amount"`

	Rate                   string `bson:"rate"`
	SwapOriginUSDRate      string `bson:"swap_origin_usd_rate,omitempty"`
	SwapDestinationUSDRate string `bson:"swap_destination_usd_rate,omitempty"`

	Type      string    `bson:"type"`
	Status    string    `bson:"status"`
	Details   string    `bson:"details,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func transactionToDoc(txn *models.Transaction) *transactionDoc {
	doc := &transactionDoc{
		ID:                  txn.ID,
		TransactionID:       txn.TransactionID,
		UserID:              txn.UserID,
		WalletID:            txn.WalletID,
		BaseCurrency:        txn.BaseCurrency,
		BaseAmount:          txn.BaseAmount.String(),
		DestinationCurrency: txn.DestinationCurrency,
		DestinationAmount:   txn.DestinationAmount.String(),
		Rate:                txn.Rate.String(),
		Type:                txn.Type,
		Status:              txn.Status,
		Details:             txn.Details,
		CreatedAt:           txn.CreatedAt,
	}
	if txn.SwapOriginUSDRate != nil {
		doc.SwapOriginUSDRate = txn.SwapOriginUSDRate.String()
	}
	if txn.SwapDestinationUSDRate != nil {
		doc.SwapDestinationUSDRate = txn.SwapDestinationUSDRate.String()
	}
	return doc
}

func transactionFromDoc(doc *transactionDoc) (*models.Transaction, error) {
	parse := func(field, raw string) (decimal.Decimal, error) {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("corrupt %s %q: %w", field, raw, err)
		}
		return value, nil
	}

	baseAmount, err := parse("base_amount", doc.BaseAmount)
	if err != nil {
		return nil, err
	}
	destAmount, err := parse("destination_amount", doc.DestinationAmount)
	if err != nil {
		return nil, err
	}
	rate, err := parse("rate", doc.Rate)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:                  doc.ID,
		TransactionID:       doc.TransactionID,
		UserID:              doc.UserID,
		WalletID:            doc.WalletID,
		BaseCurrency:        doc.BaseCurrency,
		BaseAmount:          baseAmount,
		DestinationCurrency: doc.DestinationCurrency,
		DestinationAmount:   destAmount,
		Rate:                rate,
		Type:                doc.Type,
		Status:              doc.Status,
		Details:             doc.Details,
		CreatedAt:           doc.CreatedAt,
	}

	if doc.SwapOriginUSDRate != "" {
		value, err := parse("swap_origin_usd_rate", doc.SwapOriginUSDRate)
		if err != nil {
			return nil, err
		}
		txn.SwapOriginUSDRate = &value
	}
	if doc.SwapDestinationUSDRate != "" {
		value, err := parse("swap_destination_usd_rate", doc.SwapDestinationUSDRate)
		if err != nil {
			return nil, err
		}
		txn.SwapDestinationUSDRate = &value
	}
	return txn, nil
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{
		collection: db.Collection("transactions"),
	}
}

func (r *transactionRepository) Insert(ctx context.Context, txn *models.Transaction) error {
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, transactionToDoc(txn))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	txn.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

// List returns a user's ledger rows newest first. The currency filter
// matches either side of the transaction.
func (r *transactionRepository) List(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error) {
	query := bson.M{"user_id": userID}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.Currency != "" {
		query["$or"] = []bson.M{
			{"base_currency": filter.Currency},
			{"destination_currency": filter.Currency},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var transactions []*models.Transaction
	for cursor.Next(ctx) {
		var doc transactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		txn, err := transactionFromDoc(&doc)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("transaction cursor error: %w", err)
	}

	return transactions, nil
}

// CreateIndexes creates necessary indexes for the transactions collection
func (r *transactionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "base_currency", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "destination_currency", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}
