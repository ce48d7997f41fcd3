package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle/coingecko"
)

// Loader seeds and refreshes the coin registry from CoinGecko. Coins that
// disappear from the upstream list are deactivated, never deleted, so the
// ledger can always name the currencies it recorded.
type Loader struct {
	client       *coingecko.Client
	coins        *mongo.Collection
	vsCurrencies *mongo.Collection
	logger       *logrus.Entry
}

func NewLoader(client *coingecko.Client, db *mongo.Database) *Loader {
	return &Loader{
		client:       client,
		coins:        db.Collection("coins"),
		vsCurrencies: db.Collection("vs_currencies"),
		logger:       logrus.WithField("component", "catalog_loader"),
	}
}

// LoadCoins replaces the registry with the current CoinGecko listings.
func (l *Loader) LoadCoins(ctx context.Context) error {
	coins, err := l.client.ListCoins(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch coins list: %w", err)
	}
	if len(coins) == 0 {
		return fmt.Errorf("coins list is empty")
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(coins)+1)
	for _, coin := range coins {
		coinID := strings.ToLower(strings.TrimSpace(coin.ID))
		if coinID == "" {
			continue
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"coin_id": coinID}).
			SetUpdate(bson.M{"$set": bson.M{
				"coin_id":    coinID,
				"symbol":     strings.ToLower(coin.Symbol),
				"name":       coin.Name,
				"active":     true,
				"updated_at": now,
			}}).
			SetUpsert(true))
	}

	// Anything not touched this round is no longer listed upstream.
	writes = append(writes, mongo.NewUpdateManyModel().
		SetFilter(bson.M{"updated_at": bson.M{"$lt": now}}).
		SetUpdate(bson.M{"$set": bson.M{"active": false}}))

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := l.coins.BulkWrite(ctx, writes, opts); err != nil {
		return fmt.Errorf("failed to store coins: %w", err)
	}

	l.logger.WithField("coins", len(coins)).Info("Coin registry refreshed")
	return nil
}

// LoadVsCurrencies refreshes the supported quote currencies.
func (l *Loader) LoadVsCurrencies(ctx context.Context) error {
	currencies, err := l.client.SupportedVsCurrencies(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch vs currencies: %w", err)
	}
	if len(currencies) == 0 {
		return fmt.Errorf("vs currencies list is empty")
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(currencies))
	for _, currency := range currencies {
		currency = strings.ToLower(strings.TrimSpace(currency))
		if currency == "" {
			continue
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"currency": currency}).
			SetUpdate(bson.M{"$set": bson.M{"currency": currency, "updated_at": now}}).
			SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := l.vsCurrencies.BulkWrite(ctx, writes, opts); err != nil {
		return fmt.Errorf("failed to store vs currencies: %w", err)
	}

	l.logger.WithField("currencies", len(currencies)).Info("Vs currencies refreshed")
	return nil
}

// Load refreshes both registries.
func (l *Loader) Load(ctx context.Context) error {
	if err := l.LoadCoins(ctx); err != nil {
		return err
	}
	return l.LoadVsCurrencies(ctx)
}

// CreateIndexes creates necessary indexes for the catalog collections
func (l *Loader) CreateIndexes(ctx context.Context) error {
	_, err := l.coins.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "coin_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "active", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create coin indexes: %w", err)
	}

	_, err = l.vsCurrencies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "currency", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create vs currency indexes: %w", err)
	}
	return nil
}
