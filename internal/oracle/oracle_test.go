package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle/coingecko"
)

// priceServer is a fake upstream whose response and availability can change
// mid-test.
type priceServer struct {
	mu       sync.Mutex
	body     string
	failing  bool
	requests int
}

func (s *priceServer) set(body string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.failing = failing
}

func (s *priceServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *priceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.failing {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte(s.body))
}

type oracleFixture struct {
	oracle   *cachedOracle
	upstream *priceServer
	now      time.Time
}

func setupOracle(t *testing.T, cfg Config) *oracleFixture {
	t.Helper()

	upstream := &priceServer{body: `{}`}
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	client := coingecko.NewClient(&coingecko.Config{
		BaseURL:   server.URL,
		Timeout:   time.Second,
		RateLimit: 6000,
	})

	fixture := &oracleFixture{upstream: upstream, now: time.Now()}
	fixture.oracle = newCachedOracle(client, redisClient, cfg, func() time.Time { return fixture.now })
	return fixture
}

func TestGetUSDPriceUSDIsAlwaysOne(t *testing.T) {
	fixture := setupOracle(t, Config{})

	price, err := fixture.oracle.GetUSDPrice(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, "1", price.String())
	assert.Zero(t, fixture.upstream.count(), "usd never reaches the upstream")
}

func TestGetUSDPriceCachesFreshQuotes(t *testing.T) {
	ctx := context.Background()
	fixture := setupOracle(t, Config{PriceTTL: time.Minute})
	fixture.upstream.set(`{"bitcoin":{"usd":60000.5}}`, false)

	price, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "60000.5", price.String())
	assert.Equal(t, 1, fixture.upstream.count())

	// Within the TTL the cache answers, even if upstream moved.
	fixture.upstream.set(`{"bitcoin":{"usd":70000}}`, false)
	fixture.now = fixture.now.Add(30 * time.Second)

	price, err = fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "60000.5", price.String())
	assert.Equal(t, 1, fixture.upstream.count())
}

func TestGetUSDPriceRefetchesExpiredQuotes(t *testing.T) {
	ctx := context.Background()
	fixture := setupOracle(t, Config{PriceTTL: time.Minute})
	fixture.upstream.set(`{"bitcoin":{"usd":60000}}`, false)

	_, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)

	fixture.upstream.set(`{"bitcoin":{"usd":61000}}`, false)
	fixture.now = fixture.now.Add(2 * time.Minute)

	price, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "61000", price.String())
	assert.Equal(t, 2, fixture.upstream.count())
}

func TestGetUSDPriceServesStaleOnUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	fixture := setupOracle(t, Config{PriceTTL: time.Minute, StaleTTL: 24 * time.Hour})
	fixture.upstream.set(`{"bitcoin":{"usd":60000}}`, false)

	_, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)

	fixture.upstream.set("", true)
	fixture.now = fixture.now.Add(time.Hour)

	price, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "60000", price.String(), "a stale quote beats no quote")
}

func TestGetUSDPriceUnavailableWithoutCache(t *testing.T) {
	fixture := setupOracle(t, Config{})
	fixture.upstream.set("", true)

	_, err := fixture.oracle.GetUSDPrice(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

type lookupRecorder struct {
	hits   int
	misses int
}

func (r *lookupRecorder) RecordPriceLookup(currency string, cacheHit bool) {
	if cacheHit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestGetUSDPriceRecordsCacheHits(t *testing.T) {
	ctx := context.Background()
	fixture := setupOracle(t, Config{PriceTTL: time.Minute})
	fixture.upstream.set(`{"bitcoin":{"usd":60000}}`, false)

	recorder := &lookupRecorder{}
	fixture.oracle.metrics = recorder

	_, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)
	_, err = fixture.oracle.GetUSDPrice(ctx, "bitcoin")
	require.NoError(t, err)

	assert.Equal(t, 1, recorder.misses)
	assert.Equal(t, 1, recorder.hits)
}

func TestGetUSDPriceRejectsMissingAndNonPositiveQuotes(t *testing.T) {
	ctx := context.Background()

	t.Run("missing quote", func(t *testing.T) {
		fixture := setupOracle(t, Config{})
		fixture.upstream.set(`{}`, false)

		_, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("zero quote", func(t *testing.T) {
		fixture := setupOracle(t, Config{})
		fixture.upstream.set(`{"bitcoin":{"usd":0}}`, false)

		_, err := fixture.oracle.GetUSDPrice(ctx, "bitcoin")
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})
}
