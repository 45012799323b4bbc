package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// SignatureState is the confirmation state of a submitted transaction.
type SignatureState int

const (
	// SignaturePending means the cluster has not confirmed it yet.
	SignaturePending SignatureState = iota
	// SignatureConfirmed means it landed and succeeded.
	SignatureConfirmed
	// SignatureFailed means it landed and its execution failed.
	SignatureFailed
)

// SignatureStatus is the result of polling a signature.
type SignatureStatus struct {
	State SignatureState
	// Err is the on-chain error when State is SignatureFailed.
	Err string
}

// Chain is the subset of Solana JSON-RPC the bot needs.
type Chain interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// SendTransaction submits a signed transaction. Preflight failures are
	// returned as *entity.SubmissionError with the simulation logs.
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error)

	// TransactionLogs returns the log messages of a landed transaction.
	TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error)

	// Balance returns the lamports held by an account.
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// TokenBalance returns the raw amount of a token account. A missing
	// token account has balance zero and exists=false.
	TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (amount uint64, exists bool, err error)

	// AccountDataSize returns the length of an account's data, or
	// exists=false when the account does not exist.
	AccountDataSize(ctx context.Context, account solana.PublicKey) (size int, exists bool, err error)

	// LookupTables resolves address lookup tables. Tables that do not exist
	// are skipped.
	LookupTables(ctx context.Context, addresses []solana.PublicKey) ([]entity.LookupTable, error)
}
