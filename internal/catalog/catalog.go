package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
)

// Catalog answers which currencies the exchange supports. The canonical
// currency space is CoinGecko coin IDs ("bitcoin", "ethereum") plus the fiat
// reference currency "usd". Ticker symbols resolve to IDs here and nowhere
// else.
type Catalog interface {
	IsSupported(ctx context.Context, currencyID string) (bool, error)
	IsSupportedVsCurrency(ctx context.Context, vsCurrency string) (bool, error)
	ResolveSymbol(ctx context.Context, symbolOrID string) (string, error)
	ActiveCoinIDs(ctx context.Context) ([]string, error)
}

// ErrUnknownCurrency is returned by ResolveSymbol when neither a coin ID nor
// a ticker symbol matches the input.
var ErrUnknownCurrency = fmt.Errorf("unknown currency")

// CoinDoc is the persisted shape of one registry entry.
type CoinDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CoinID    string             `bson:"coin_id"`
	Symbol    string             `bson:"symbol"`
	Name      string             `bson:"name"`
	Active    bool               `bson:"active"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type vsCurrencyDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Currency  string             `bson:"currency"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type mongoCatalog struct {
	coins        *mongo.Collection
	vsCurrencies *mongo.Collection
}

func NewCatalog(db *mongo.Database) Catalog {
	return &mongoCatalog{
		coins:        db.Collection("coins"),
		vsCurrencies: db.Collection("vs_currencies"),
	}
}

func (c *mongoCatalog) IsSupported(ctx context.Context, currencyID string) (bool, error) {
	currencyID = strings.ToLower(strings.TrimSpace(currencyID))
	if currencyID == models.CurrencyUSD {
		return true, nil
	}

	count, err := c.coins.CountDocuments(ctx, bson.M{"coin_id": currencyID, "active": true})
	if err != nil {
		return false, fmt.Errorf("failed to check currency support: %w", err)
	}
	return count > 0, nil
}

func (c *mongoCatalog) IsSupportedVsCurrency(ctx context.Context, vsCurrency string) (bool, error) {
	vsCurrency = strings.ToLower(strings.TrimSpace(vsCurrency))

	count, err := c.vsCurrencies.CountDocuments(ctx, bson.M{"currency": vsCurrency})
	if err != nil {
		return false, fmt.Errorf("failed to check vs currency support: %w", err)
	}
	return count > 0, nil
}

// ResolveSymbol maps a ticker symbol ("BTC") to its canonical coin ID
// ("bitcoin"). Already-canonical IDs and "usd" pass through unchanged.
// Symbols with multiple listings resolve to the first coin ID in
// lexicographic order, which favors the original project over forks.
func (c *mongoCatalog) ResolveSymbol(ctx context.Context, symbolOrID string) (string, error) {
	input := strings.ToLower(strings.TrimSpace(symbolOrID))
	if input == "" {
		return "", ErrUnknownCurrency
	}
	if input == models.CurrencyUSD {
		return models.CurrencyUSD, nil
	}

	var doc CoinDoc
	err := c.coins.FindOne(ctx, bson.M{"coin_id": input, "active": true}).Decode(&doc)
	if err == nil {
		return doc.CoinID, nil
	}
	if err != mongo.ErrNoDocuments {
		return "", fmt.Errorf("failed to resolve currency: %w", err)
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "coin_id", Value: 1}})
	err = c.coins.FindOne(ctx, bson.M{"symbol": input, "active": true}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, symbolOrID)
		}
		return "", fmt.Errorf("failed to resolve currency: %w", err)
	}
	return doc.CoinID, nil
}

func (c *mongoCatalog) ActiveCoinIDs(ctx context.Context) ([]string, error) {
	cursor, err := c.coins.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list active coins: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc CoinDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode coin: %w", err)
		}
		ids = append(ids, doc.CoinID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("coin cursor error: %w", err)
	}
	return ids, nil
}
