// Package pyth implements outbound.PriceProvider on the Pyth Hermes price
// service. It is the primary price source.
package pyth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/httpclient"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.PriceProvider.
var _ outbound.PriceProvider = (*Client)(nil)

// ClientConfig holds configuration for the Hermes client.
type ClientConfig struct {
	// BaseURL is the Hermes endpoint. Defaults to https://hermes.pyth.network.
	BaseURL string

	Timeout    time.Duration
	MaxRetries int

	// RateLimit is the request rate in requests per second.
	RateLimit float64

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:    "https://hermes.pyth.network",
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RateLimit:  10,
		Logger:     slog.Default(),
	}
}

// Client reads the latest price updates from Hermes.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a new Hermes client.
func NewClient(config ClientConfig) *Client {
	d := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = d.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = d.MaxRetries
	}
	if config.RateLimit == 0 {
		config.RateLimit = d.RateLimit
	}
	if config.Logger == nil {
		config.Logger = d.Logger
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	logger := config.Logger.With("component", "pyth-client")
	return &Client{
		config: config,
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2.0,
			RateLimit:      rate.Limit(config.RateLimit),
			RateBurst:      1,
		}, logger, nil),
		logger: logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "pyth"
}

// GetPrices fetches the latest update for every asset with a feed id. The
// EMA price is used as the TWAP for strict valuation.
func (c *Client) GetPrices(ctx context.Context, assets []*entity.Asset) (entity.PriceTable, error) {
	byFeed := make(map[string][]entity.MarketIndex)
	params := url.Values{"parsed": {"true"}}
	for _, a := range assets {
		if a.PythFeedID == "" {
			continue
		}
		id := normalizeID(a.PythFeedID)
		if _, seen := byFeed[id]; !seen {
			params.Add("ids[]", id)
		}
		byFeed[id] = append(byFeed[id], a.MarketIndex)
	}
	if len(byFeed) == 0 {
		return entity.PriceTable{}, nil
	}

	var response latestResponse
	reqCfg := httpclient.RequestConfig{URL: fmt.Sprintf("%s/v2/updates/price/latest?%s", c.config.BaseURL, params.Encode())}
	if err := c.http.DoRequest(ctx, reqCfg, &response); err != nil {
		return nil, fmt.Errorf("fetching pyth prices: %w", err)
	}

	table := make(entity.PriceTable, len(assets))
	for _, update := range response.Parsed {
		indices, ok := byFeed[normalizeID(update.ID)]
		if !ok {
			continue
		}
		spot, err := update.Price.value()
		if err != nil {
			c.logger.Warn("skipping malformed price", "feed", update.ID, "error", err)
			continue
		}
		ema, err := update.EMAPrice.value()
		if err != nil {
			ema = 0
		}
		price := entity.OraclePrice{
			Spot:      spot,
			TWAP5Min:  ema,
			Source:    c.Name(),
			Timestamp: time.Unix(update.Price.PublishTime, 0),
		}
		if !price.Valid() {
			continue
		}
		for _, idx := range indices {
			table[idx] = price
		}
	}
	return table, nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
}

type latestResponse struct {
	Parsed []priceUpdate `json:"parsed"`
}

type priceUpdate struct {
	ID       string    `json:"id"`
	Price    feedPrice `json:"price"`
	EMAPrice feedPrice `json:"ema_price"`
}

// feedPrice is a Pyth price: price * 10^expo USD.
type feedPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int    `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

func (p feedPrice) value() (float64, error) {
	raw, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing price %q: %w", p.Price, err)
	}
	return float64(raw) * math.Pow10(p.Expo), nil
}
