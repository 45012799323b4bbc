// Package solanarpc implements outbound.Chain on Solana JSON-RPC.
package solanarpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/retry"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.Chain.
var _ outbound.Chain = (*Client)(nil)

// JSON-RPC error codes.
const (
	codeInvalidParams    = -32602
	codePreflightFailure = -32002
)

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	// URL is the JSON-RPC endpoint.
	URL string

	// Commitment used for reads and preflight. Defaults to confirmed.
	Commitment rpc.CommitmentType

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxRetries applies to reads. Sends are never retried here.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Commitment:     rpc.CommitmentConfirmed,
		RateLimit:      20,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Logger:         slog.Default(),
	}
}

// Client wraps the solana-go RPC client.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
	retry      retry.Config
	logger     *slog.Logger
}

// NewClient creates a new RPC client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("URL is required")
	}
	d := ClientConfigDefaults()
	if config.Commitment == "" {
		config.Commitment = d.Commitment
	}
	if config.RateLimit == 0 {
		config.RateLimit = d.RateLimit
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = d.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = d.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = d.MaxBackoff
	}
	if config.Logger == nil {
		config.Logger = d.Logger
	}

	return &Client{
		rpc:        rpc.New(config.URL),
		commitment: config.Commitment,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), max(1, int(config.RateLimit))),
		retry: retry.Config{
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		logger: config.Logger.With("component", "solana-rpc"),
	}, nil
}

// read rate-limits and retries a read call.
func read[T any](ctx context.Context, c *Client, method string, fn func() (T, error)) (T, error) {
	return retry.Do(ctx, c.retry, isRetryable,
		func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying rpc call", "method", method, "attempt", attempt, "backoff", backoff, "error", err)
		},
		func() (T, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, retry.Permanent(err)
			}
			return fn()
		})
}

func isRetryable(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code != codeInvalidParams
	}
	return true
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := read(ctx, c, "getLatestBlockhash", func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, c.commitment)
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getting latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits tx with preflight enabled. A failed simulation is
// returned as *entity.SubmissionError carrying the simulation logs.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		subErr := &entity.SubmissionError{Err: err}
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == codePreflightFailure {
			subErr.Logs = preflightLogs(rpcErr.Data)
			subErr.Err = fmt.Errorf("preflight failed: %s", rpcErr.Message)
		}
		if len(tx.Signatures) > 0 {
			subErr.Signature = tx.Signatures[0]
		}
		return subErr.Signature, subErr
	}
	return sig, nil
}

// preflightLogs extracts the simulation logs from a preflight error payload.
func preflightLogs(data any) []string {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var payload struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload.Logs
}

func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (outbound.SignatureStatus, error) {
	out, err := read(ctx, c, "getSignatureStatuses", func() (*rpc.GetSignatureStatusesResult, error) {
		return c.rpc.GetSignatureStatuses(ctx, false, sig)
	})
	if err != nil {
		return outbound.SignatureStatus{}, fmt.Errorf("getting signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return outbound.SignatureStatus{State: outbound.SignaturePending}, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return outbound.SignatureStatus{State: outbound.SignatureFailed, Err: fmt.Sprint(status.Err)}, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return outbound.SignatureStatus{State: outbound.SignatureConfirmed}, nil
	default:
		return outbound.SignatureStatus{State: outbound.SignaturePending}, nil
	}
}

func (c *Client) TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error) {
	version := uint64(0)
	out, err := read(ctx, c, "getTransaction", func() (*rpc.GetTransactionResult, error) {
		return c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &version,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", sig, err)
	}
	if out.Meta == nil {
		return nil, nil
	}
	return out.Meta.LogMessages, nil
}

func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := read(ctx, c, "getBalance", func() (*rpc.GetBalanceResult, error) {
		return c.rpc.GetBalance(ctx, account, c.commitment)
	})
	if err != nil {
		return 0, fmt.Errorf("getting balance of %s: %w", account, err)
	}
	return out.Value, nil
}

// accountData returns the raw data of account, or exists=false.
func (c *Client) accountData(ctx context.Context, account solana.PublicKey) ([]byte, bool, error) {
	out, err := read(ctx, c, "getAccountInfo", func() (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting account %s: %w", account, err)
	}
	if out.Value == nil || out.Value.Data == nil {
		return nil, false, nil
	}
	return out.Value.Data.GetBinary(), true, nil
}

func (c *Client) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, bool, error) {
	data, exists, err := c.accountData(ctx, tokenAccount)
	if err != nil || !exists {
		return 0, false, err
	}
	var acc token.Account
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return 0, false, fmt.Errorf("decoding token account %s: %w", tokenAccount, err)
	}
	return acc.Amount, true, nil
}

func (c *Client) AccountDataSize(ctx context.Context, account solana.PublicKey) (int, bool, error) {
	data, exists, err := c.accountData(ctx, account)
	if err != nil || !exists {
		return 0, false, err
	}
	return len(data), true, nil
}

// LookupTables resolves each address. Missing tables are skipped.
func (c *Client) LookupTables(ctx context.Context, addresses []solana.PublicKey) ([]entity.LookupTable, error) {
	out := make([]entity.LookupTable, 0, len(addresses))
	for _, address := range addresses {
		data, exists, err := c.accountData(ctx, address)
		if err != nil {
			return nil, err
		}
		if !exists {
			c.logger.Warn("lookup table not found", "address", address)
			continue
		}
		state, err := addresslookuptable.DecodeAddressLookupTableState(data)
		if err != nil {
			return nil, fmt.Errorf("decoding lookup table %s: %w", address, err)
		}
		out = append(out, entity.LookupTable{Address: address, Addresses: state.Addresses})
	}
	return out, nil
}
