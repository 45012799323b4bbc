// Package vaultapi is a client for the lending protocol's account and
// instruction service. It implements outbound.AccountSource and
// outbound.ProtocolInstructionBuilder.
package vaultapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/httpclient"
	"github.com/archon-research/stl/auto-repay/internal/pkg/ixjson"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time checks.
var (
	_ outbound.AccountSource              = (*Client)(nil)
	_ outbound.ProtocolInstructionBuilder = (*Client)(nil)
)

// ClientConfig holds configuration for the vault API client.
type ClientConfig struct {
	BaseURL string
	// APIKey is sent as x-api-key when set.
	APIKey string

	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout:    15 * time.Second,
		MaxRetries: 3,
		RateLimit:  20,
		Logger:     slog.Default(),
	}
}

// Client talks to the vault API.
type Client struct {
	baseURL string
	headers map[string]string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a new vault API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	d := ClientConfigDefaults()
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

	headers := map[string]string{}
	if config.APIKey != "" {
		headers["x-api-key"] = config.APIKey
	}

	logger := config.Logger.With("component", "vault-api-client")
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		headers: headers,
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2.0,
			RateLimit:      rate.Limit(config.RateLimit),
			RateBurst:      int(config.RateLimit),
		}, logger, parseError),
		logger: logger,
	}, nil
}

// ListAccounts returns every open account. Entries without an owner are
// skipped.
func (c *Client) ListAccounts(ctx context.Context) ([]*entity.Account, error) {
	var body accountsResponse
	if err := c.http.DoRequest(ctx, c.request("/accounts"), &body); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	accounts := make([]*entity.Account, 0, len(body.Accounts))
	for _, raw := range body.Accounts {
		if raw.Owner == "" {
			c.logger.Warn("skipping account without owner", "vault", raw.Vault)
			continue
		}
		account, err := raw.toEntity()
		if err != nil {
			return nil, fmt.Errorf("decoding account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetAccount reloads one account.
func (c *Client) GetAccount(ctx context.Context, owner solana.PublicKey) (*entity.Account, error) {
	var body accountJSON
	if err := c.http.DoRequest(ctx, c.request("/accounts/"+owner.String()), &body); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", entity.ErrAccountNotFound, owner)
		}
		return nil, fmt.Errorf("getting account %s: %w", owner, err)
	}
	return body.toEntity()
}

// BuildRepayInstructions returns the protocol's repay sequence with swapIx
// between its pre-swap and post-swap instructions.
func (c *Client) BuildRepayInstructions(
	ctx context.Context,
	account *entity.Account,
	caller solana.PublicKey,
	loan, collateral entity.MarketIndex,
	swapIx solana.Instruction,
) (entity.InstructionSet, error) {
	payload := repayRequest{
		Owner:                 account.Owner.String(),
		Caller:                caller.String(),
		LoanMarketIndex:       loan,
		CollateralMarketIndex: collateral,
	}
	var body repayResponse
	if err := c.http.DoPost(ctx, c.request("/instructions/repay"), payload, &body); err != nil {
		return entity.InstructionSet{}, fmt.Errorf("requesting repay instructions: %w", err)
	}
	if len(body.PreSwap) == 0 || len(body.PostSwap) == 0 {
		return entity.InstructionSet{}, fmt.Errorf("repay instructions incomplete: %d before swap, %d after", len(body.PreSwap), len(body.PostSwap))
	}

	pre, err := ixjson.DecodeAll(body.PreSwap)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("decoding pre-swap instructions: %w", err)
	}
	post, err := ixjson.DecodeAll(body.PostSwap)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("decoding post-swap instructions: %w", err)
	}
	tables, err := ixjson.PublicKeys(body.LookupTables)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("decoding lookup tables: %w", err)
	}

	ixs := make([]solana.Instruction, 0, len(pre)+1+len(post))
	ixs = append(ixs, pre...)
	ixs = append(ixs, swapIx)
	ixs = append(ixs, post...)
	return entity.InstructionSet{Instructions: ixs, LookupTables: tables}, nil
}

// BuildFulfilDepositInstructions credits market's deposit-address balance to
// the account's vault.
func (c *Client) BuildFulfilDepositInstructions(
	ctx context.Context,
	account *entity.Account,
	market entity.MarketIndex,
	caller solana.PublicKey,
) (entity.InstructionSet, error) {
	payload := fulfilDepositRequest{
		Owner:       account.Owner.String(),
		Caller:      caller.String(),
		MarketIndex: market,
	}
	var body instructionsResponse
	if err := c.http.DoPost(ctx, c.request("/instructions/fulfil-deposit"), payload, &body); err != nil {
		return entity.InstructionSet{}, fmt.Errorf("requesting fulfil deposit instructions: %w", err)
	}
	ixs, err := ixjson.DecodeAll(body.Instructions)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("decoding fulfil deposit instructions: %w", err)
	}
	tables, err := ixjson.PublicKeys(body.LookupTables)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("decoding lookup tables: %w", err)
	}
	return entity.InstructionSet{Instructions: ixs, LookupTables: tables}, nil
}

// FlashLoanAccounts lists the flash-loan accounts owned by authority.
func (c *Client) FlashLoanAccounts(ctx context.Context, authority solana.PublicKey) ([]FlashLoanAccount, error) {
	path := "/flash-loan/accounts?" + url.Values{"authority": {authority.String()}}.Encode()
	var body flashLoanAccountsResponse
	if err := c.http.DoRequest(ctx, c.request(path), &body); err != nil {
		return nil, fmt.Errorf("listing flash loan accounts: %w", err)
	}
	out := make([]FlashLoanAccount, 0, len(body.Accounts))
	for _, raw := range body.Accounts {
		account, err := raw.toAccount()
		if err != nil {
			return nil, fmt.Errorf("flash loan account for market %d: %w", raw.MarketIndex, err)
		}
		out = append(out, account)
	}
	return out, nil
}

func (c *Client) request(path string) httpclient.RequestConfig {
	return httpclient.RequestConfig{URL: c.baseURL + path, Headers: c.headers}
}

// parseError leaves 404 to the caller as a StatusError.
func parseError(status int, body []byte) error {
	if status == http.StatusNotFound {
		return nil
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error == "" {
		return nil
	}
	if status < http.StatusBadRequest {
		return httpclient.WrapNonRetryable(fmt.Errorf("vault api error: %s", apiErr.Error))
	}
	return fmt.Errorf("vault api error (HTTP %d): %s", status, apiErr.Error)
}
