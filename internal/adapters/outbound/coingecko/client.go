// Package coingecko implements outbound.PriceProvider on CoinGecko's
// /simple/price endpoint. It is the fallback when the oracle feed has no
// usable price for an asset.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/httpclient"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.PriceProvider.
var _ outbound.PriceProvider = (*Client)(nil)

const (
	publicBaseURL = "https://api.coingecko.com/api/v3"
	proBaseURL    = "https://pro-api.coingecko.com/api/v3"
)

// ClientConfig holds configuration for the CoinGecko client.
type ClientConfig struct {
	// APIKey is the CoinGecko Pro API key. Without one the public API is used.
	APIKey string

	// BaseURL overrides the API base URL.
	BaseURL string

	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimitPerMin is the rate limit in requests per minute.
	// Defaults to 25, under the public API's 30/min limit.
	RateLimitPerMin int

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		RateLimitPerMin: 25,
		Logger:          slog.Default(),
	}
}

// Client implements PriceProvider using CoinGecko's API.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a new CoinGecko API client.
func NewClient(config ClientConfig) *Client {
	applyDefaults(&config)

	logger := config.Logger.With("component", "coingecko-client")
	return &Client{
		config: config,
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  2.0,
			RateLimit:      rate.Limit(float64(config.RateLimitPerMin) / 60.0),
			RateBurst:      1,
		}, logger, parseError),
		logger: logger,
	}
}

func applyDefaults(config *ClientConfig) {
	defaults := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = publicBaseURL
		if config.APIKey != "" {
			config.BaseURL = proBaseURL
		}
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "coingecko"
}

// GetPrices fetches current USD prices for assets that carry a CoinGecko id.
// CoinGecko has no TWAP, so only the spot price is set.
func (c *Client) GetPrices(ctx context.Context, assets []*entity.Asset) (entity.PriceTable, error) {
	byID := make(map[string][]entity.MarketIndex)
	for _, a := range assets {
		if a.CoinGeckoID == "" {
			continue
		}
		byID[a.CoinGeckoID] = append(byID[a.CoinGeckoID], a.MarketIndex)
	}
	if len(byID) == 0 {
		return entity.PriceTable{}, nil
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	params := url.Values{
		"ids":                     {strings.Join(ids, ",")},
		"vs_currencies":           {"usd"},
		"include_last_updated_at": {"true"},
	}
	reqCfg := httpclient.RequestConfig{URL: fmt.Sprintf("%s/simple/price?%s", c.config.BaseURL, params.Encode())}
	if c.config.APIKey != "" {
		reqCfg.Headers = map[string]string{"x-cg-pro-api-key": c.config.APIKey}
	}

	var response simplePriceResponse
	if err := c.http.DoRequest(ctx, reqCfg, &response); err != nil {
		return nil, fmt.Errorf("fetching coingecko prices: %w", err)
	}

	table := make(entity.PriceTable, len(assets))
	for id, data := range response {
		if data.USD <= 0 {
			c.logger.Debug("ignoring non-positive price", "id", id, "price", data.USD)
			continue
		}
		ts := time.Now()
		if data.LastUpdated > 0 {
			ts = time.Unix(data.LastUpdated, 0)
		}
		for _, idx := range byID[id] {
			table[idx] = entity.OraclePrice{Spot: data.USD, Source: c.Name(), Timestamp: ts}
		}
	}
	return table, nil
}

func parseError(status int, body []byte) error {
	if status < http.StatusBadRequest {
		return nil
	}
	var apiErr coinGeckoError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("coingecko API error (HTTP %d): %s", status, apiErr.Error)
	}
	return nil
}
