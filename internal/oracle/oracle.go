package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle/coingecko"
)

// ErrPriceUnavailable is returned when no usable quote exists for a
// currency: the upstream failed, returned nothing, or returned a
// non-positive price, and no cached quote survives.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceOracle quotes the USD spot price of a currency. "usd" always quotes
// exactly 1.
type PriceOracle interface {
	GetUSDPrice(ctx context.Context, currencyID string) (decimal.Decimal, error)
}

// cachedQuote is the persisted cache entry. The price is a decimal string;
// FetchedAt decides freshness against the configured TTL.
type cachedQuote struct {
	Price     string    `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Config holds the cache windows of the oracle. PriceTTL is how long a
// quote counts as fresh; StaleTTL is how long it may still serve as a
// last-known-good fallback when the upstream is down.
type Config struct {
	PriceTTL time.Duration
	StaleTTL time.Duration
}

// PriceMetrics records cache-hit accounting per lookup. A nil recorder is
// tolerated.
type PriceMetrics interface {
	RecordPriceLookup(currency string, cacheHit bool)
}

type cachedOracle struct {
	client  *coingecko.Client
	redis   *redis.Client
	cfg     Config
	metrics PriceMetrics
	now     func() time.Time
	logger  *logrus.Entry
}

// NewCachedOracle builds the production oracle: CoinGecko behind a Redis
// quote cache with last-known-good fallback.
func NewCachedOracle(client *coingecko.Client, redisClient *redis.Client, cfg Config, metrics PriceMetrics) PriceOracle {
	oracle := newCachedOracle(client, redisClient, cfg, time.Now)
	oracle.metrics = metrics
	return oracle
}

func newCachedOracle(client *coingecko.Client, redisClient *redis.Client, cfg Config, now func() time.Time) *cachedOracle {
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = time.Minute
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = 24 * time.Hour
	}
	return &cachedOracle{
		client: client,
		redis:  redisClient,
		cfg:    cfg,
		now:    now,
		logger: logrus.WithField("component", "price_oracle"),
	}
}

func (o *cachedOracle) GetUSDPrice(ctx context.Context, currencyID string) (decimal.Decimal, error) {
	if currencyID == models.CurrencyUSD {
		return decimal.NewFromInt(1), nil
	}

	cached, err := o.getCached(ctx, currencyID)
	if err == nil && o.now().Sub(cached.FetchedAt) <= o.cfg.PriceTTL {
		if price, parseErr := decimal.NewFromString(cached.Price); parseErr == nil {
			o.recordLookup(currencyID, true)
			return price, nil
		}
	}

	price, fetchErr := o.fetch(ctx, currencyID)
	if fetchErr == nil {
		o.setCached(ctx, currencyID, price)
		o.recordLookup(currencyID, false)
		return price, nil
	}

	// Upstream failed. A stale quote beats no quote.
	if cached != nil {
		if price, parseErr := decimal.NewFromString(cached.Price); parseErr == nil {
			o.logger.WithField("currency", currencyID).Warn("Serving stale price after upstream failure")
			o.recordLookup(currencyID, true)
			return price, nil
		}
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, currencyID)
}

func (o *cachedOracle) fetch(ctx context.Context, currencyID string) (decimal.Decimal, error) {
	prices, err := o.client.GetSimplePrices(ctx, []string{currencyID})
	if err != nil {
		o.logger.WithError(err).WithField("currency", currencyID).Warn("Price fetch failed")
		return decimal.Decimal{}, err
	}

	price, ok := prices[currencyID]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no quote for %s", currencyID)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive quote %s for %s", price.String(), currencyID)
	}
	return price, nil
}

func (o *cachedOracle) getCached(ctx context.Context, currencyID string) (*cachedQuote, error) {
	data, err := o.redis.Get(ctx, priceKey(currencyID)).Bytes()
	if err != nil {
		return nil, err
	}

	var quote cachedQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (o *cachedOracle) setCached(ctx context.Context, currencyID string, price decimal.Decimal) {
	quote := cachedQuote{
		Price:     price.String(),
		FetchedAt: o.now(),
	}
	data, err := json.Marshal(quote)
	if err != nil {
		return
	}
	if err := o.redis.Set(ctx, priceKey(currencyID), data, o.cfg.StaleTTL).Err(); err != nil {
		o.logger.WithError(err).WithField("currency", currencyID).Warn("Failed to cache price")
	}
}

func (o *cachedOracle) recordLookup(currencyID string, cacheHit bool) {
	if o.metrics != nil {
		o.metrics.RecordPriceLookup(currencyID, cacheHit)
	}
}

func priceKey(currencyID string) string {
	return fmt.Sprintf("price:usd:%s", currencyID)
}
