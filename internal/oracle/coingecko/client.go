package coingecko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client is a rate-limited CoinGecko API client. Prices are decoded through
// json.Number into decimals so no amount ever round-trips a binary float.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// Config represents CoinGecko client configuration
type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

// Coin is one entry of the /coins/list response.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// NewClient creates a new CoinGecko client
func NewClient(config *Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 30 // requests per minute
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RateLimit)), 1),
	}
}

// GetSimplePrices fetches USD spot prices for the given coin IDs.
// Coins the API does not know are simply absent from the result.
func (c *Client) GetSimplePrices(ctx context.Context, coinIDs []string) (map[string]decimal.Decimal, error) {
	if len(coinIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	endpoint := fmt.Sprintf("/simple/price?ids=%s&vs_currencies=usd", url.QueryEscape(strings.Join(coinIDs, ",")))
	data, err := c.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var response map[string]map[string]json.Number
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("coingecko: failed to parse price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(response))
	for coinID, quotes := range response {
		raw, ok := quotes["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, fmt.Errorf("coingecko: bad price %q for %s: %w", raw.String(), coinID, err)
		}
		prices[coinID] = price
	}
	return prices, nil
}

// ListCoins fetches the full coin registry from /coins/list.
func (c *Client) ListCoins(ctx context.Context) ([]Coin, error) {
	data, err := c.makeRequest(ctx, "/coins/list")
	if err != nil {
		return nil, err
	}

	var coins []Coin
	if err := json.Unmarshal(data, &coins); err != nil {
		return nil, fmt.Errorf("coingecko: failed to parse coins list: %w", err)
	}
	return coins, nil
}

// SupportedVsCurrencies fetches the quote currencies the API supports.
func (c *Client) SupportedVsCurrencies(ctx context.Context) ([]string, error) {
	data, err := c.makeRequest(ctx, "/simple/supported_vs_currencies")
	if err != nil {
		return nil, err
	}

	var currencies []string
	if err := json.Unmarshal(data, &currencies); err != nil {
		return nil, fmt.Errorf("coingecko: failed to parse vs currencies: %w", err)
	}
	return currencies, nil
}

// Ping checks if the CoinGecko API is accessible
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.makeRequest(ctx, "/ping")
	return err
}

// makeRequest makes an HTTP request to the CoinGecko API
func (c *Client) makeRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("coingecko: rate limit wait cancelled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coingecko: failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "telegram-crypto-exchange/1.0")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko: network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coingecko: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// handleErrorResponse handles error responses from the API
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var errorMsg string
	switch statusCode {
	case http.StatusTooManyRequests:
		errorMsg = "Rate limit exceeded"
	case http.StatusUnauthorized:
		errorMsg = "Unauthorized - check API key"
	case http.StatusNotFound:
		errorMsg = "Resource not found"
	case http.StatusBadRequest:
		errorMsg = "Bad request"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		errorMsg = "Server error"
	default:
		errorMsg = fmt.Sprintf("HTTP %d", statusCode)
	}

	if len(body) > 0 {
		var errorResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errorResp) == nil && errorResp.Error != "" {
			errorMsg = errorResp.Error
		}
	}

	return fmt.Errorf("coingecko: HTTP %d - %s", statusCode, errorMsg)
}
