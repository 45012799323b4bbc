// Package jupiter implements outbound.QuoteSource on the Jupiter swap API.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/httpclient"
	"github.com/archon-research/stl/auto-repay/internal/pkg/ixjson"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.QuoteSource.
var _ outbound.QuoteSource = (*Client)(nil)

// Error codes Jupiter returns when a pair cannot be routed.
var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE":                   true,
	"NO_ROUTES_FOUND":                            true,
	"TOKEN_NOT_TRADABLE":                         true,
	"ROUTE_PLAN_DOES_NOT_CONSUME_ALL_THE_AMOUNT": true,
}

// ClientConfig holds configuration for the Jupiter client.
type ClientConfig struct {
	// QuoteURL is the quote API base. Defaults to https://quote-api.jup.ag/v6.
	QuoteURL string

	// SwapURL is the swap API base. Defaults to https://api.jup.ag/swap/v1.
	SwapURL string

	// OnlyDirectRoutes restricts quotes to single-hop routes, which keeps the
	// swap instruction small enough to fit beside the flash loan.
	OnlyDirectRoutes bool

	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		QuoteURL:         "https://quote-api.jup.ag/v6",
		SwapURL:          "https://api.jup.ag/swap/v1",
		OnlyDirectRoutes: true,
		Timeout:          10 * time.Second,
		MaxRetries:       3,
		RateLimit:        5,
		Logger:           slog.Default(),
	}
}

// Client requests quotes and swap instructions from Jupiter.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a new Jupiter client. Zero fields take their defaults,
// except OnlyDirectRoutes which is used as given.
func NewClient(config ClientConfig) *Client {
	d := ClientConfigDefaults()
	if config.QuoteURL == "" {
		config.QuoteURL = d.QuoteURL
	}
	if config.SwapURL == "" {
		config.SwapURL = d.SwapURL
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
	config.QuoteURL = strings.TrimRight(config.QuoteURL, "/")
	config.SwapURL = strings.TrimRight(config.SwapURL, "/")

	logger := config.Logger.With("component", "jupiter-client")
	return &Client{
		config: config,
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2.0,
			RateLimit:      rate.Limit(config.RateLimit),
			RateBurst:      1,
		}, logger, parseError),
		logger: logger,
	}
}

// GetQuote returns a quote for req, or entity.ErrNoRouteFound when Jupiter
// cannot route the pair.
func (c *Client) GetQuote(ctx context.Context, req entity.QuoteRequest) (entity.Quote, error) {
	if req.Amount == 0 {
		return entity.Quote{}, fmt.Errorf("quote amount must be positive")
	}

	params := url.Values{
		"inputMint":   {req.InputMint.String()},
		"outputMint":  {req.OutputMint.String()},
		"amount":      {strconv.FormatUint(req.Amount, 10)},
		"slippageBps": {strconv.Itoa(int(req.SlippageBps))},
		"swapMode":    {string(req.Mode)},
	}
	if c.config.OnlyDirectRoutes {
		params.Set("onlyDirectRoutes", "true")
	}

	var raw json.RawMessage
	reqCfg := httpclient.RequestConfig{URL: fmt.Sprintf("%s/quote?%s", c.config.QuoteURL, params.Encode())}
	if err := c.http.DoRequest(ctx, reqCfg, &raw); err != nil {
		return entity.Quote{}, fmt.Errorf("requesting %s quote %s->%s: %w", req.Mode, req.InputMint, req.OutputMint, err)
	}

	var body quoteResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return entity.Quote{}, fmt.Errorf("decoding quote: %w", err)
	}
	quote, err := body.toQuote(raw)
	if err != nil {
		return entity.Quote{}, err
	}

	c.logger.Debug("quote received",
		"mode", quote.Mode,
		"inAmount", quote.InAmount,
		"outAmount", quote.OutAmount,
		"threshold", quote.OtherAmountThreshold,
	)
	return quote, nil
}

// GetSwapInstruction returns the swap instruction for quote executed by user
// and the lookup tables its route needs.
func (c *Client) GetSwapInstruction(ctx context.Context, quote entity.Quote, user solana.PublicKey) (solana.Instruction, []solana.PublicKey, error) {
	if len(quote.Raw) == 0 {
		return nil, nil, fmt.Errorf("quote has no raw payload")
	}

	payload := swapInstructionsRequest{
		QuoteResponse: quote.Raw,
		UserPublicKey: user.String(),
	}
	var body swapInstructionsResponse
	reqCfg := httpclient.RequestConfig{URL: c.config.SwapURL + "/swap-instructions"}
	if err := c.http.DoPost(ctx, reqCfg, payload, &body); err != nil {
		return nil, nil, fmt.Errorf("requesting swap instructions: %w", err)
	}
	if body.Error != "" {
		return nil, nil, fmt.Errorf("swap instructions: %s", body.Error)
	}
	if body.SwapInstruction == nil {
		return nil, nil, fmt.Errorf("swap instructions: response has no swap instruction")
	}

	ix, err := body.SwapInstruction.Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding swap instruction: %w", err)
	}
	tables, err := ixjson.PublicKeys(body.AddressLookupTableAddresses)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding lookup tables: %w", err)
	}
	return ix, tables, nil
}

func parseError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Error == "" && apiErr.ErrorCode == "" {
		return nil
	}
	if noRouteCodes[apiErr.ErrorCode] || strings.Contains(strings.ToLower(apiErr.Error), "could not find any route") {
		return httpclient.WrapNonRetryable(fmt.Errorf("%w: %s", entity.ErrNoRouteFound, apiErr.Error))
	}
	if status < http.StatusBadRequest {
		return httpclient.WrapNonRetryable(fmt.Errorf("jupiter error: %s", apiErr.Error))
	}
	return fmt.Errorf("jupiter error (HTTP %d): %s", status, apiErr.Error)
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SwapMode             string `json:"swapMode"`
	SlippageBps          uint16 `json:"slippageBps"`
}

func (q quoteResponse) toQuote(raw json.RawMessage) (entity.Quote, error) {
	in, err := solana.PublicKeyFromBase58(q.InputMint)
	if err != nil {
		return entity.Quote{}, fmt.Errorf("quote input mint: %w", err)
	}
	out, err := solana.PublicKeyFromBase58(q.OutputMint)
	if err != nil {
		return entity.Quote{}, fmt.Errorf("quote output mint: %w", err)
	}
	amounts := make([]uint64, 3)
	for i, s := range []string{q.InAmount, q.OutAmount, q.OtherAmountThreshold} {
		if amounts[i], err = strconv.ParseUint(s, 10, 64); err != nil {
			return entity.Quote{}, fmt.Errorf("quote amount %q: %w", s, err)
		}
	}
	return entity.Quote{
		Mode:                 entity.SwapMode(q.SwapMode),
		InputMint:            in,
		OutputMint:           out,
		InAmount:             amounts[0],
		OutAmount:            amounts[1],
		OtherAmountThreshold: amounts[2],
		SlippageBps:          q.SlippageBps,
		Raw:                  raw,
	}, nil
}

type swapInstructionsRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
}

type swapInstructionsResponse struct {
	SwapInstruction             *ixjson.Instruction `json:"swapInstruction"`
	AddressLookupTableAddresses []string            `json:"addressLookupTableAddresses"`
	Error                       string              `json:"error"`
}
